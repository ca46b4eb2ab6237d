// Package tui is the terminal client: an inbox of conversations, the open
// conversation's timeline, and a composer that drives typing presence.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/tui/keys"
	"github.com/matheus3301/deskline/internal/tui/viewmodel"
	"github.com/matheus3301/deskline/internal/tui/views"
	"github.com/matheus3301/deskline/internal/typing"
	"github.com/rivo/tview"
)

const (
	pageConversations = "conversations"
	pageTimeline      = "timeline"

	flashFor = 5 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *viewmodel.ViewModel
	registry  *keys.Registry
	statusBar *views.StatusBar
	list      *views.ConversationList
	timeline  *views.TimelineView
	composer  *views.Composer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application. identity labels the status bar.
func NewApp(vm *viewmodel.ViewModel, identity string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        vm,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		list:      views.NewConversationList(),
		timeline:  views.NewTimelineView(),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetIdentity(identity)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Description: "q:quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddPage(pageConversations, "reload", &keys.Action{
		Key: tcell.KeyRune, Rune: 'r',
		Description: "r:reload", Visible: true,
		Handler: func() { go a.reload() },
	})
	a.registry.AddPage(pageTimeline, "compose", &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer) },
	})
	a.registry.AddPage(pageTimeline, "back", &keys.Action{
		Key: tcell.KeyEscape, Description: "esc:back", Visible: true,
		Handler: a.closeConversation,
	})
	for name, st := range map[string]model.ConversationStatus{
		"status-open":    model.StatusOpen,
		"status-pending": model.StatusPending,
		"status-closed":  model.StatusClosed,
	} {
		r := rune(st[0])
		a.registry.AddPage(pageTimeline, name, &keys.Action{
			Key: tcell.KeyRune, Rune: r,
			Description: fmt.Sprintf("%c:%s", r, st), Visible: a.vm.Self().Kind == typing.Agent,
			Handler: func() { go a.setStatus(st) },
		})
	}
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(int, int) {
		if id := a.list.Selected(); id != "" {
			a.openConversation(id)
		}
	})
	a.composer.SetOnChange(a.vm.InputChanged)
	a.composer.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.Send(a.ctx, text); err != nil {
				a.vm.Flash.Set("Send failed: "+err.Error(), flashFor)
				a.app.QueueUpdateDraw(func() { a.composer.Restore(text) })
			}
		}()
	})
}

func (a *App) setupLayout() {
	timelinePage := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.timeline, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageConversations, a.list, true, true)
	a.pages.AddPage(pageTimeline, timelinePage, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)
	a.app.SetRoot(root, true)
	a.statusBar.SetHints(a.registry.Hints(pageConversations))

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()

		// The composer keeps every key except escape, which returns to the timeline.
		if a.app.GetFocus() == a.composer {
			if event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.timeline)
				return nil
			}
			return event
		}
		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

func (a *App) showPage(page string) {
	a.pages.SwitchToPage(page)
	a.statusBar.SetHints(a.registry.Hints(page))
}

func (a *App) openConversation(id string) {
	a.timeline.SetConversation(a.list.Name(id))
	a.showPage(pageTimeline)
	a.app.SetFocus(a.timeline)
	go func() {
		draft, err := a.vm.Open(id)
		if err != nil {
			a.vm.Flash.Set("Load failed: "+err.Error(), flashFor)
		}
		a.app.QueueUpdateDraw(func() {
			a.composer.Restore(draft)
			a.render()
		})
	}()
}

func (a *App) closeConversation() {
	a.vm.CloseConversation()
	a.composer.Restore("")
	a.showPage(pageConversations)
	a.app.SetFocus(a.list)
}

func (a *App) reload() {
	if err := a.vm.LoadConversations(a.ctx); err != nil {
		a.vm.Flash.Set("Reload failed: "+err.Error(), flashFor)
	}
}

func (a *App) setStatus(st model.ConversationStatus) {
	if err := a.vm.SetStatus(a.ctx, st); err != nil {
		a.vm.Flash.Set("Status change failed: "+err.Error(), flashFor)
		return
	}
	a.vm.Flash.Set("Conversation "+string(st), flashFor)
}

// render copies view model state into the widgets. Call on the UI goroutine.
func (a *App) render() {
	a.list.Update(a.vm.Conversations())
	if a.vm.ActiveID() != "" {
		a.timeline.Update(a.vm.Timeline(), a.vm.Self().ID)
	}
	a.statusBar.SetTyping(a.vm.TypingLabel())
	a.statusBar.SetFlash(a.vm.Flash.Get())
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go func() {
		if err := a.vm.Start(a.ctx); err != nil {
			a.vm.Flash.Set("Load failed: "+err.Error(), flashFor)
		}
		a.app.QueueUpdateDraw(a.render)
		a.refreshLoop()
	}()
	defer a.vm.Close()
	return a.app.Run()
}

// refreshLoop redraws on view model changes, and once a second so flash
// messages expire.
func (a *App) refreshLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.vm.RefreshCh():
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
		a.app.QueueUpdateDraw(a.render)
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
