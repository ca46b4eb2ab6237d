// Package entity exposes query accessors for the support entities. Each
// accessor loads through the shared data source, collapses identical
// in-flight queries and keeps its last good data when a reload fails.
package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/deskline/internal/cache"
	"github.com/matheus3301/deskline/internal/clock"
	"github.com/matheus3301/deskline/internal/model"
	"go.uber.org/zap"
)

// ErrNotFound is returned by single-entity lookups that match nothing.
var ErrNotFound = errors.New("entity not found")

// Source runs queries against the data service. *remote.Client satisfies it.
type Source interface {
	Select(ctx context.Context, q model.Query) ([]model.Row, error)
}

// Writer applies row updates. *remote.Client satisfies it.
type Writer interface {
	Update(ctx context.Context, collection, orgID, id string, patch model.Row) (model.Row, error)
}

// State is what an accessor exposes to its consumer.
type State[T any] struct {
	Data    []T
	Loading bool
	Err     error
}

// Loader builds accessors that share one source, one deduplicator and the
// customer details cache.
type Loader struct {
	src       Source
	inflight  *cache.Dedup[[]model.Row]
	customers *cache.TTL[string, model.Customer]
	logger    *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	customerTTL time.Duration
}

// WithCustomerTTL overrides how long customer details are cached.
// Non-positive values keep the default.
func WithCustomerTTL(d time.Duration) LoaderOption {
	return func(o *loaderOptions) {
		if d > 0 {
			o.customerTTL = d
		}
	}
}

// NewLoader creates a Loader. A nil src means the service is not configured:
// every accessor then reports empty data and no error.
func NewLoader(src Source, clk clock.Clock, logger *zap.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := loaderOptions{customerTTL: cache.CustomerTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader{
		src:       src,
		inflight:  &cache.Dedup[[]model.Row]{},
		customers: cache.NewTTL[string, model.Customer](o.customerTTL, clk),
		logger:    logger,
	}
}

func (l *Loader) selectRows(ctx context.Context, q model.Query) ([]model.Row, bool, error) {
	return l.inflight.Do(ctx, q.Signature(), func(ctx context.Context) ([]model.Row, error) {
		return l.src.Select(ctx, q)
	})
}

// Accessor loads one query's rows as T values.
type Accessor[T any] struct {
	loader *Loader
	query  model.Query

	mu    sync.Mutex
	state State[T]
}

func newAccessor[T any](l *Loader, q model.Query) *Accessor[T] {
	return &Accessor[T]{loader: l, query: q}
}

// Query returns the query this accessor runs.
func (a *Accessor[T]) Query() model.Query { return a.query }

// State returns the current state without loading.
func (a *Accessor[T]) State() State[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Load fetches the rows and returns the new state. On failure the previous
// data is kept and Err is set.
func (a *Accessor[T]) Load(ctx context.Context) State[T] {
	if a.loader.src == nil {
		a.mu.Lock()
		a.state = State[T]{}
		a.mu.Unlock()
		return State[T]{}
	}

	a.mu.Lock()
	a.state.Loading = true
	a.mu.Unlock()

	rows, shared, err := a.loader.selectRows(ctx, a.query)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Loading = false
	if err != nil {
		a.loader.logger.Warn("entity load failed",
			zap.String("collection", a.query.Collection),
			zap.Error(err),
		)
		a.state.Err = err
		return a.state
	}

	data, skipped := model.DecodeAll[T](rows)
	if skipped > 0 {
		a.loader.logger.Debug("skipped undecodable rows",
			zap.String("collection", a.query.Collection),
			zap.Int("skipped", skipped),
		)
	}
	a.state = State[T]{Data: data}
	if shared {
		a.loader.logger.Debug("query shared with concurrent caller", zap.String("collection", a.query.Collection))
	}
	return a.state
}

// Agents lists the organization's agents, oldest first.
func (l *Loader) Agents(orgID string) *Accessor[model.Agent] {
	return newAccessor[model.Agent](l, model.Query{Collection: model.Agents, OrgID: orgID})
}

// Customers lists the organization's customers, oldest first.
func (l *Loader) Customers(orgID string) *Accessor[model.Customer] {
	return newAccessor[model.Customer](l, model.Query{Collection: model.Customers, OrgID: orgID})
}

// Conversations lists the organization's conversations, most recent activity first.
func (l *Loader) Conversations(orgID string) *Accessor[model.Conversation] {
	return newAccessor[model.Conversation](l, model.Query{
		Collection: model.Conversations,
		OrgID:      orgID,
		OrderBy:    "last_message_at",
		Desc:       true,
	})
}

// Messages lists one conversation's messages in timeline order.
func (l *Loader) Messages(orgID, conversationID string) *Accessor[model.Message] {
	return newAccessor[model.Message](l, MessagesQuery(orgID, conversationID))
}

// MessagesQuery selects every message of a conversation ascending by creation time.
func MessagesQuery(orgID, conversationID string) model.Query {
	return model.Query{
		Collection: model.Messages,
		OrgID:      orgID,
		Filters:    []model.Eq{{Column: "conversation_id", Value: conversationID}},
		OrderBy:    "created_at",
	}
}

// Organization loads the organization record itself. Data holds at most one element.
func (l *Loader) Organization(orgID string) *Accessor[model.Organization] {
	return newAccessor[model.Organization](l, model.Query{Collection: model.Organizations, OrgID: orgID})
}

func customerKey(orgID, id string) string { return orgID + "/" + id }

// Customer returns one customer's details, served from the customer cache
// (five minutes unless overridden).
func (l *Loader) Customer(ctx context.Context, orgID, id string) (model.Customer, error) {
	key := customerKey(orgID, id)
	if c, ok := l.customers.Get(key); ok {
		return c, nil
	}
	if l.src == nil {
		return model.Customer{}, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}

	rows, _, err := l.selectRows(ctx, model.Query{
		Collection: model.Customers,
		OrgID:      orgID,
		Filters:    []model.Eq{{Column: "id", Value: id}},
	})
	if err != nil {
		return model.Customer{}, fmt.Errorf("load customer %s: %w", id, err)
	}
	customers, _ := model.DecodeAll[model.Customer](rows)
	if len(customers) == 0 {
		return model.Customer{}, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	l.customers.Set(key, customers[0])
	return customers[0], nil
}

// InvalidateCustomer drops a cached customer so the next lookup refetches it.
func (l *Loader) InvalidateCustomer(orgID, id string) {
	l.customers.Invalidate(customerKey(orgID, id))
}
