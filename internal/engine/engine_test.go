package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/deskline/internal/bus"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/store"
	"go.uber.org/zap"
)

func testEngine(t *testing.T) (*Engine, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	b := bus.New()
	return New(db, b, zap.NewNop()), b
}

func seedConversation(t *testing.T, e *Engine) string {
	t.Helper()
	ctx := context.Background()
	if _, err := e.Insert(ctx, model.Organizations, "org-1", model.Row{"name": "Acme"}); err != nil {
		t.Fatal(err)
	}
	cust, err := e.Insert(ctx, model.Customers, "org-1", model.Row{"name": "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	conv, err := e.Insert(ctx, model.Conversations, "org-1", model.Row{"customer_id": cust.String("id")})
	if err != nil {
		t.Fatal(err)
	}
	return conv.String("id")
}

func next(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return bus.Event{}
	}
}

func TestInsertPublishesChange(t *testing.T) {
	e, b := testEngine(t)
	convID := seedConversation(t, e)

	msgs, unsub := b.Subscribe(Namespace(model.Messages), 8)
	defer unsub()
	convs, unsubConv := b.Subscribe(Namespace(model.Conversations), 8)
	defer unsubConv()

	row, err := e.Insert(context.Background(), model.Messages, "org-1", model.Row{
		"conversation_id": convID, "sender_kind": "CUSTOMER", "body": "hi", "created_at": int64(4200),
	})
	if err != nil {
		t.Fatal(err)
	}

	evt := next(t, msgs)
	if evt.Kind != "db.messages.insert" {
		t.Errorf("kind = %q", evt.Kind)
	}
	change := evt.Payload.(model.Change)
	if change.Op != model.OpInsert || change.Record.String("id") != row.String("id") {
		t.Errorf("change = %+v", change)
	}

	evt = next(t, convs)
	change = evt.Payload.(model.Change)
	if change.Op != model.OpUpdate || change.Record.String("last_message_at") != "4200" {
		t.Errorf("conversation change = %+v", change)
	}
}

func TestDuplicateInsertPublishesNothing(t *testing.T) {
	e, b := testEngine(t)
	convID := seedConversation(t, e)
	ctx := context.Background()
	msg := model.Row{"id": "m1", "conversation_id": convID, "sender_kind": "AGENT", "body": "hi"}

	if _, err := e.Insert(ctx, model.Messages, "org-1", msg); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe(Namespace(model.Messages), 8)
	defer unsub()
	if _, err := e.Insert(ctx, model.Messages, "org-1", msg); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event %q for replayed insert", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdateAndDeletePublish(t *testing.T) {
	e, b := testEngine(t)
	convID := seedConversation(t, e)
	ctx := context.Background()

	ch, unsub := b.Subscribe(Namespace(model.Conversations), 8)
	defer unsub()

	if _, err := e.Update(ctx, model.Conversations, "org-1", convID, model.Row{"status": "pending"}); err != nil {
		t.Fatal(err)
	}
	change := next(t, ch).Payload.(model.Change)
	if change.Old.String("status") != "open" || change.Record.String("status") != "pending" {
		t.Errorf("update change = %+v", change)
	}

	if _, err := e.Delete(ctx, model.Conversations, "org-1", convID); err != nil {
		t.Fatal(err)
	}
	evt := next(t, ch)
	if evt.Kind != "db.conversations.delete" {
		t.Errorf("kind = %q", evt.Kind)
	}
	change = evt.Payload.(model.Change)
	if change.Record != nil || change.Row().String("id") != convID {
		t.Errorf("delete change = %+v", change)
	}
}
