// Package msgsync keeps one conversation's message list current: a snapshot
// fetch merged with live insert events, ordered and free of duplicates.
package msgsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/deskline/internal/entity"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/realtime"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ErrInactive is returned by operations that need an active conversation.
var ErrInactive = errors.New("no active conversation")

// Source fetches and writes messages. *remote.Client satisfies it.
type Source interface {
	Select(ctx context.Context, q model.Query) ([]model.Row, error)
	Insert(ctx context.Context, collection, orgID string, row model.Row) (model.Row, error)
}

// Sender identifies who is writing a message.
type Sender struct {
	Kind       model.SenderKind
	AgentID    string
	CustomerID string
}

// State is a point-in-time copy of the timeline.
type State struct {
	ConversationID string
	Messages       []model.Message
	Loading        bool
	// Loaded is true once a fetch has succeeded for the active conversation.
	Loaded bool
	Err    error
}

// Timeline tracks the active conversation's messages.
type Timeline struct {
	src    Source
	subs   realtime.Subscriber
	logger *zap.Logger

	mu       sync.Mutex
	gen      uint64
	orgID    string
	convID   string
	messages []model.Message
	ids      map[string]struct{}
	loading  bool
	loaded   bool
	err      error
	unsub    realtime.Unsubscribe

	changes chan struct{}
}

// New creates an inactive Timeline. A nil src or subs disables fetching or
// live updates respectively.
func New(src Source, subs realtime.Subscriber, logger *zap.Logger) *Timeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timeline{
		src:     src,
		subs:    subs,
		logger:  logger,
		ids:     make(map[string]struct{}),
		changes: make(chan struct{}, 1),
	}
}

// Changes signals (coalesced) whenever the state changes.
func (t *Timeline) Changes() <-chan struct{} { return t.changes }

func (t *Timeline) notify() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current state.
func (t *Timeline) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		ConversationID: t.convID,
		Messages:       slices.Clone(t.messages),
		Loading:        t.loading,
		Loaded:         t.loaded,
		Err:            t.err,
	}
}

// Activate switches the timeline to a conversation. The subscription is
// opened before the fetch so nothing committed in between is lost; both
// sources are merged by id. ctx bounds the subscription's lifetime.
func (t *Timeline) Activate(ctx context.Context, orgID, conversationID string) error {
	t.mu.Lock()
	t.releaseLocked()
	t.gen++
	gen := t.gen
	t.orgID = orgID
	t.convID = conversationID
	t.messages = nil
	t.ids = make(map[string]struct{})
	t.loaded = false
	t.err = nil
	t.loading = t.src != nil
	t.mu.Unlock()
	t.notify()

	if t.src == nil {
		return nil
	}

	if t.subs != nil {
		unsub, err := t.subs.Subscribe(ctx, model.Messages, realtime.Filter{
			OrgID:  orgID,
			Column: "conversation_id",
			Value:  conversationID,
		}, func(c model.Change) { t.onChange(gen, c) })
		if err != nil {
			t.logger.Warn("live updates unavailable",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		} else {
			t.mu.Lock()
			if t.gen != gen {
				t.mu.Unlock()
				unsub()
				return nil
			}
			t.unsub = unsub
			t.mu.Unlock()
		}
	}

	return t.load(ctx, gen)
}

// Refresh refetches the active conversation and merges the result.
func (t *Timeline) Refresh(ctx context.Context) error {
	t.mu.Lock()
	if t.convID == "" {
		t.mu.Unlock()
		return ErrInactive
	}
	if t.src == nil {
		t.mu.Unlock()
		return nil
	}
	gen := t.gen
	t.loading = true
	t.mu.Unlock()
	t.notify()
	return t.load(ctx, gen)
}

// Deactivate releases the subscription. Late events and fetch results for
// the previous conversation are discarded.
func (t *Timeline) Deactivate() {
	t.mu.Lock()
	t.releaseLocked()
	t.gen++
	t.orgID = ""
	t.convID = ""
	t.messages = nil
	t.ids = make(map[string]struct{})
	t.loading = false
	t.loaded = false
	t.err = nil
	t.mu.Unlock()
	t.notify()
}

func (t *Timeline) releaseLocked() {
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
}

func (t *Timeline) load(ctx context.Context, gen uint64) error {
	t.mu.Lock()
	convID := t.convID
	q := entity.MessagesQuery(t.orgID, convID)
	t.mu.Unlock()

	rows, err := t.src.Select(ctx, q)

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return nil
	}
	t.loading = false
	if err != nil {
		// A failed first load shows nothing; a failed refresh keeps the list.
		if !t.loaded {
			t.messages = nil
			t.ids = make(map[string]struct{})
		}
		t.err = err
		t.mu.Unlock()
		t.notify()
		t.logger.Warn("message fetch failed", zap.String("conversation_id", convID), zap.Error(err))
		return fmt.Errorf("fetch messages: %w", err)
	}
	msgs, skipped := model.DecodeAll[model.Message](rows)
	if skipped > 0 {
		t.logger.Debug("skipped undecodable messages", zap.Int("skipped", skipped))
	}
	t.mergeLocked(msgs...)
	t.loaded = true
	t.err = nil
	t.mu.Unlock()
	t.notify()
	return nil
}

func (t *Timeline) onChange(gen uint64, c model.Change) {
	if c.Op != model.OpInsert {
		return
	}
	var msg model.Message
	if err := model.Decode(c.Record, &msg); err != nil || msg.ID == "" {
		t.logger.Debug("ignoring malformed message event", zap.Error(err))
		return
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	if msg.ConversationID != t.convID {
		t.mu.Unlock()
		t.logger.Debug("ignoring event for another conversation", zap.String("conversation_id", msg.ConversationID))
		return
	}
	added := t.mergeLocked(msg)
	t.mu.Unlock()
	if added {
		t.notify()
	}
}

// mergeLocked adds messages whose id is new and restores timeline order.
func (t *Timeline) mergeLocked(msgs ...model.Message) bool {
	added := false
	for _, m := range msgs {
		if _, dup := t.ids[m.ID]; dup {
			continue
		}
		t.ids[m.ID] = struct{}{}
		t.messages = append(t.messages, m)
		added = true
	}
	if added {
		slices.SortStableFunc(t.messages, func(a, b model.Message) int {
			switch {
			case a.Before(b):
				return -1
			case b.Before(a):
				return 1
			}
			return 0
		})
	}
	return added
}

// Send writes a message to the active conversation and merges the stored row
// right away. The subscription's copy of the same row is then a duplicate.
func (t *Timeline) Send(ctx context.Context, body string, from Sender) (model.Message, error) {
	t.mu.Lock()
	gen, orgID, convID := t.gen, t.orgID, t.convID
	t.mu.Unlock()
	if convID == "" {
		return model.Message{}, ErrInactive
	}
	if t.src == nil {
		return model.Message{}, fmt.Errorf("send: no data service")
	}

	msg, err := Post(ctx, t.src, orgID, convID, body, from)
	if err != nil {
		return model.Message{}, err
	}

	t.mu.Lock()
	added := t.gen == gen && t.mergeLocked(msg)
	t.mu.Unlock()
	if added {
		t.notify()
	}
	return msg, nil
}

// Inserter writes a row. *remote.Client satisfies it.
type Inserter interface {
	Insert(ctx context.Context, collection, orgID string, row model.Row) (model.Row, error)
}

// Post writes one message to a conversation without following it. The id is
// a ULID assigned here, so a timeline that later sees the row dedups it.
func Post(ctx context.Context, w Inserter, orgID, conversationID, body string, from Sender) (model.Message, error) {
	if !from.Kind.Valid() {
		return model.Message{}, fmt.Errorf("send: invalid sender kind %q", from.Kind)
	}

	row := model.Row{
		"id":              ulid.Make().String(),
		"conversation_id": conversationID,
		"sender_kind":     string(from.Kind),
		"body":            body,
		"created_at":      time.Now().UnixMilli(),
	}
	if from.AgentID != "" {
		row["agent_id"] = from.AgentID
	}
	if from.CustomerID != "" {
		row["customer_id"] = from.CustomerID
	}

	stored, err := w.Insert(ctx, model.Messages, orgID, row)
	if err != nil {
		return model.Message{}, fmt.Errorf("send: %w", err)
	}
	var msg model.Message
	if err := model.Decode(stored, &msg); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}
