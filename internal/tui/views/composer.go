package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the message input. Every edit is reported so the typing
// indicator and draft follow the text.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onChange func(text string)
}

// NewComposer creates the composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	c := &Composer{InputField: input}

	input.SetChangedFunc(func(text string) {
		if c.onChange != nil {
			c.onChange(text)
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || c.onSend == nil {
			return
		}
		if text := c.GetText(); text != "" {
			c.onSend(text)
			c.SetText("")
		}
	})
	return c
}

// SetOnSend sets the callback run on enter.
func (c *Composer) SetOnSend(fn func(text string)) { c.onSend = fn }

// SetOnChange sets the callback run on every edit.
func (c *Composer) SetOnChange(fn func(text string)) { c.onChange = fn }

// Restore puts draft text back without reporting it as typing.
func (c *Composer) Restore(text string) {
	fn := c.onChange
	c.onChange = nil
	c.SetText(text)
	c.onChange = fn
}
