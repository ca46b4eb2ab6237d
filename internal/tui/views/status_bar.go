package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// StatusBar shows who is signed in, who is typing and transient notices.
type StatusBar struct {
	*tview.TextView
	identity string
	typing   string
	flash    string
	hints    []string
}

// NewStatusBar creates the status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &StatusBar{TextView: tv}
}

// SetIdentity shows the signed-in actor.
func (sb *StatusBar) SetIdentity(s string) {
	sb.identity = s
	sb.render()
}

// SetTyping shows the typing label; "" hides it.
func (sb *StatusBar) SetTyping(s string) {
	sb.typing = s
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

// SetHints shows key hints for the current page.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	line := fmt.Sprintf(" [::b]%s[-:-:-]", escape(sb.identity))
	if sb.typing != "" {
		line += fmt.Sprintf(" | [green]%s[-]", sb.typing)
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", escape(sb.flash))
	}
	if len(sb.hints) > 0 {
		line += " | [::d]" + strings.Join(sb.hints, " ") + "[-:-:-]"
	}
	_, _ = fmt.Fprint(sb, line)
}
