package views

import (
	"fmt"

	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/msgsync"
	"github.com/rivo/tview"
)

// TimelineView shows the open conversation's messages, oldest first.
type TimelineView struct {
	*tview.TextView
}

// NewTimelineView creates the message pane.
func NewTimelineView() *TimelineView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	return &TimelineView{TextView: tv}
}

// SetConversation updates the title.
func (v *TimelineView) SetConversation(name string) {
	v.SetTitle(fmt.Sprintf(" %s ", escape(name)))
}

// Update renders st. selfID marks the local user's own messages.
func (v *TimelineView) Update(st msgsync.State, selfID string) {
	v.Clear()
	switch {
	case st.Loading && len(st.Messages) == 0:
		_, _ = fmt.Fprint(v, "[::d]loading...[-:-:-]")
		return
	case st.Err != nil && len(st.Messages) == 0:
		_, _ = fmt.Fprintf(v, "[red]%s[-]", escape(st.Err.Error()))
		return
	}

	for _, m := range st.Messages {
		_, _ = fmt.Fprintf(v, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			senderColor(m), senderLabel(m, selfID), formatTimestamp(m.CreatedAt), escape(m.Body))
	}
	v.ScrollToEnd()
}

func senderLabel(m model.Message, selfID string) string {
	if (m.AgentID != nil && *m.AgentID == selfID) || (m.CustomerID != nil && *m.CustomerID == selfID) {
		return "You"
	}
	switch m.SenderKind {
	case model.SenderAgent:
		return "Agent"
	case model.SenderCustomer:
		return "Customer"
	case model.SenderBot:
		return "Bot"
	}
	return "System"
}

func senderColor(m model.Message) string {
	switch m.SenderKind {
	case model.SenderAgent:
		return "blue"
	case model.SenderCustomer:
		return "green"
	}
	return "gray"
}
