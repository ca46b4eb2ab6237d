package views

import (
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/tui/viewmodel"
	"github.com/rivo/tview"
)

// ConversationList is the inbox table.
type ConversationList struct {
	*tview.Table
	items []viewmodel.ConversationItem
}

// NewConversationList creates the inbox table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Conversations ")
	return &ConversationList{Table: table}
}

var statusColor = map[model.ConversationStatus]tcell.Color{
	model.StatusOpen:    tcell.ColorGreen,
	model.StatusPending: tcell.ColorYellow,
	model.StatusClosed:  tcell.ColorGray,
}

// Update replaces the rows, keeping the selection on the same conversation.
func (cl *ConversationList) Update(items []viewmodel.ConversationItem) {
	selected := cl.Selected()
	cl.items = items
	cl.Clear()

	header := func(col int, text string) {
		cl.SetCell(0, col, tview.NewTableCell(" "+text).SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	}
	header(0, "Customer")
	header(1, "Status")
	header(2, "Last activity")

	row := 1
	for i, it := range items {
		cl.SetCell(i+1, 0, tview.NewTableCell(" "+escape(it.CustomerName)).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(i+1, 1, tview.NewTableCell(" "+string(it.Status)).SetTextColor(statusColor[it.Status]))
		cl.SetCell(i+1, 2, tview.NewTableCell(" "+formatTimestamp(it.LastMessageAt)).SetMaxWidth(12))
		if it.ID == selected {
			row = i + 1
		}
	}
	if len(items) > 0 {
		cl.Select(row, 0)
	}
}

// Selected returns the highlighted conversation id, or "".
func (cl *ConversationList) Selected() string {
	row, _ := cl.GetSelection()
	if idx := row - 1; idx >= 0 && idx < len(cl.items) {
		return cl.items[idx].ID
	}
	return ""
}

// Name returns the customer name shown for id.
func (cl *ConversationList) Name(id string) string {
	for _, it := range cl.items {
		if it.ID == id {
			return it.CustomerName
		}
	}
	return id
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
