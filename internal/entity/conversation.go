package entity

import (
	"context"
	"fmt"

	"github.com/matheus3301/deskline/internal/model"
)

// SetConversationStatus moves a conversation to status.
func SetConversationStatus(ctx context.Context, w Writer, orgID, conversationID string, status model.ConversationStatus) (model.Conversation, error) {
	if !status.Valid() {
		return model.Conversation{}, fmt.Errorf("invalid conversation status %q", status)
	}
	if w == nil {
		return model.Conversation{}, fmt.Errorf("set status: no data service")
	}
	row, err := w.Update(ctx, model.Conversations, orgID, conversationID, model.Row{"status": string(status)})
	if err != nil {
		return model.Conversation{}, fmt.Errorf("set status: %w", err)
	}
	var conv model.Conversation
	if err := model.Decode(row, &conv); err != nil {
		return model.Conversation{}, err
	}
	return conv, nil
}
