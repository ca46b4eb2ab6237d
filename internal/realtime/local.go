package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/deskline/internal/bus"
	"github.com/matheus3301/deskline/internal/engine"
	"github.com/matheus3301/deskline/internal/metrics"
	"github.com/matheus3301/deskline/internal/model"
	"go.uber.org/zap"
)

const localBuffer = 256

// Local serves subscriptions and broadcasts from the in-process bus.
// The daemon uses it directly; tests use it in place of a remote service.
type Local struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewLocal creates a bus-backed Subscriber and Broadcaster.
func NewLocal(b *bus.Bus, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{bus: b, logger: logger}
}

// Subscribe delivers changes to collection that match filter until ctx is
// cancelled or the returned function is called.
func (l *Local) Subscribe(ctx context.Context, collection string, filter Filter, onEvent func(model.Change)) (Unsubscribe, error) {
	if filter.OrgID == "" {
		return nil, fmt.Errorf("subscribe %s: org_id is required", collection)
	}
	ch, unsub := l.bus.Subscribe(engine.Namespace(collection), localBuffer)
	go func() {
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				change, ok := evt.Payload.(model.Change)
				if !ok || !filter.Match(collection, change.Row()) {
					continue
				}
				onEvent(change)
			case <-ctx.Done():
				unsub()
				return
			}
		}
	}()
	return Unsubscribe(unsub), nil
}

// Join listens on channel until ctx is cancelled or the channel is left.
func (l *Local) Join(ctx context.Context, channel string, onMessage func(Message)) (Channel, error) {
	if !ValidChannel(channel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	ch, unsub := l.bus.Subscribe(broadcastNamespace(channel), localBuffer)
	go func() {
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if msg, ok := evt.Payload.(Message); ok {
					onMessage(msg)
				}
			case <-ctx.Done():
				unsub()
				return
			}
		}
	}()
	var once sync.Once
	return &publisherChannel{name: channel, pub: l, leave: func() { once.Do(unsub) }}, nil
}

// Publish sends payload to everyone joined to channel.
func (l *Local) Publish(_ context.Context, channel, event string, payload model.Row) error {
	if !ValidChannel(channel) {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	l.bus.Publish(bus.Event{
		Kind:      broadcastNamespace(channel) + event,
		Timestamp: time.Now(),
		Payload:   Message{Channel: channel, Event: event, Payload: payload},
	})
	metrics.BroadcastsSent.WithLabelValues("local").Inc()
	return nil
}

func broadcastNamespace(channel string) string {
	return "broadcast." + channel + "."
}
