// Package realtime defines the live-update capabilities the sync layer needs:
// row-change subscriptions and transient broadcast channels.
package realtime

import (
	"context"
	"errors"
	"regexp"

	"github.com/matheus3301/deskline/internal/model"
)

// ErrInvalidChannel is returned for channel names outside [A-Za-z0-9:_-]{1,128}.
var ErrInvalidChannel = errors.New("invalid channel name")

var channelPattern = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,128}$`)

// ValidChannel reports whether name can be used as a broadcast channel.
func ValidChannel(name string) bool {
	return channelPattern.MatchString(name)
}

// Filter narrows a subscription to one organization and, optionally, to rows
// whose Column equals Value.
type Filter struct {
	OrgID  string
	Column string
	Value  string
}

// Match reports whether row of collection passes the filter.
func (f Filter) Match(collection string, row model.Row) bool {
	if row == nil {
		return false
	}
	if row.String(model.ScopeColumn(collection)) != f.OrgID {
		return false
	}
	if f.Column == "" {
		return true
	}
	return row.String(f.Column) == f.Value
}

// Unsubscribe releases a subscription. Calling it more than once is safe.
type Unsubscribe func()

// Subscriber delivers committed row changes for one collection.
// onEvent is called from a single goroutine per subscription, in commit order.
type Subscriber interface {
	Subscribe(ctx context.Context, collection string, filter Filter, onEvent func(model.Change)) (Unsubscribe, error)
}

// Message is one payload delivered on a broadcast channel.
type Message struct {
	Channel string
	Event   string
	Payload model.Row
}

// Channel is a joined broadcast channel.
type Channel interface {
	Send(ctx context.Context, event string, payload model.Row) error
	Leave()
}

// Broadcaster fans transient payloads out to everyone joined to a channel.
// Nothing sent through a Broadcaster is persisted. Senders receive their own
// payloads; consumers filter by payload content.
type Broadcaster interface {
	Join(ctx context.Context, channel string, onMessage func(Message)) (Channel, error)
	Publish(ctx context.Context, channel, event string, payload model.Row) error
}

// publisherChannel implements Channel on top of a Broadcaster's Publish.
type publisherChannel struct {
	name  string
	pub   Broadcaster
	leave func()
}

func (c *publisherChannel) Send(ctx context.Context, event string, payload model.Row) error {
	return c.pub.Publish(ctx, c.name, event, payload)
}

func (c *publisherChannel) Leave() { c.leave() }
