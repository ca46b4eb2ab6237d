package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/deskline/internal/bus"
	"github.com/matheus3301/deskline/internal/metrics"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/store"
	"go.uber.org/zap"
)

// Engine applies writes to the store and publishes a change event for each
// committed write. Replayed inserts (same id) publish nothing.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a new write engine.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Kind returns the bus event kind for a change to collection.
func Kind(collection string, op model.Op) string {
	return "db." + collection + "." + strings.ToLower(string(op))
}

// Namespace returns the bus prefix matching every change to collection.
func Namespace(collection string) string {
	return "db." + collection + "."
}

// Insert stores row and returns it. Inserting an id that already exists returns
// the stored row unchanged and publishes nothing.
func (e *Engine) Insert(ctx context.Context, collection, orgID string, row model.Row) (model.Row, error) {
	stored, created, err := e.db.Insert(ctx, collection, orgID, row)
	if err != nil {
		return nil, err
	}
	if !created {
		e.logger.Debug("duplicate insert ignored",
			zap.String("collection", collection),
			zap.String("id", stored.String("id")),
		)
		return stored, nil
	}

	e.publish(model.Change{Collection: collection, Op: model.OpInsert, Record: stored})

	if collection == model.Messages {
		conv, err := e.db.Get(ctx, model.Conversations, stored.String("org_id"), stored.String("conversation_id"))
		if err != nil {
			e.logger.Warn("failed to reload conversation after message", zap.Error(err))
		} else {
			e.publish(model.Change{Collection: model.Conversations, Op: model.OpUpdate, Record: conv})
		}
	}
	return stored, nil
}

// Update patches the row with the given id and returns the new row.
func (e *Engine) Update(ctx context.Context, collection, orgID, id string, patch model.Row) (model.Row, error) {
	before, after, err := e.db.Update(ctx, collection, orgID, id, patch)
	if err != nil {
		return nil, err
	}
	e.publish(model.Change{Collection: collection, Op: model.OpUpdate, Record: after, Old: before})
	return after, nil
}

// Delete removes the row with the given id and returns what was removed.
func (e *Engine) Delete(ctx context.Context, collection, orgID, id string) (model.Row, error) {
	old, err := e.db.Delete(ctx, collection, orgID, id)
	if err != nil {
		return nil, fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	e.publish(model.Change{Collection: collection, Op: model.OpDelete, Old: old})
	return old, nil
}

func (e *Engine) publish(c model.Change) {
	metrics.RowsWritten.WithLabelValues(c.Collection, string(c.Op)).Inc()
	e.bus.Publish(bus.Event{
		Kind:      Kind(c.Collection, c.Op),
		Timestamp: time.Now(),
		Payload:   c,
	})
}
