package keys

import (
	"slices"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestPageBindingWinsOverGlobal(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "global" }})
	r.AddPage("timeline", "close", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "page" }})

	ev := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if !r.HandleEvent("timeline", ev) || got != "page" {
		t.Errorf("timeline: handled by %q, want page", got)
	}
	if !r.HandleEvent("conversations", ev) || got != "global" {
		t.Errorf("conversations: handled by %q, want global", got)
	}
}

func TestSpecialKeys(t *testing.T) {
	r := NewRegistry()
	fired := false
	r.AddGlobal("back", &Action{Key: tcell.KeyEscape, Handler: func() { fired = true }})

	if r.HandleEvent("any", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("rune x should not match")
	}
	if !r.HandleEvent("any", tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)) || !fired {
		t.Error("escape should match")
	}
}

func TestHintsStableOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("quit", &Action{Description: "q:quit", Visible: true})
	r.AddGlobal("hidden", &Action{Description: "h", Visible: false})
	r.AddPage("timeline", "status", &Action{Description: "s:status", Visible: true})
	r.AddPage("timeline", "compose", &Action{Description: "i:compose", Visible: true})

	want := []string{"i:compose", "s:status", "q:quit"}
	for range 5 {
		if got := r.Hints("timeline"); !slices.Equal(got, want) {
			t.Fatalf("Hints() = %v, want %v", got, want)
		}
	}
}
