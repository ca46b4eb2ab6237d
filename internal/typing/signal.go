// Package typing implements typing presence: an Indicator that announces the
// local user's typing over a broadcast channel and a Tracker that keeps the
// set of peers currently typing.
package typing

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/deskline/internal/model"
)

const (
	// Event is the broadcast event name carrying typing signals.
	Event = "typing"

	DefaultIdleTimeout = 3 * time.Second
	DefaultStaleAfter  = 10 * DefaultIdleTimeout
)

// ActorKind says which side of the conversation is typing.
type ActorKind string

const (
	Agent    ActorKind = "agent"
	Customer ActorKind = "customer"
)

// Actor is a participant that can type.
type Actor struct {
	ID   string
	Kind ActorKind
}

// ChannelName returns the broadcast channel for a conversation's typing signals.
func ChannelName(conversationID string) string {
	return "typing:" + conversationID
}

// Signal is one typing announcement. It is never persisted.
type Signal struct {
	ConversationID string
	ActorID        string
	ActorKind      ActorKind
	Typing         bool
	At             int64
}

// Row encodes the signal as a broadcast payload.
func (s Signal) Row() model.Row {
	return model.Row{
		"conversation_id": s.ConversationID,
		"actor_id":        s.ActorID,
		"actor_kind":      string(s.ActorKind),
		"typing":          s.Typing,
		"at":              s.At,
	}
}

var errMalformed = errors.New("malformed typing signal")

// ParseSignal decodes a broadcast payload.
func ParseSignal(r model.Row) (Signal, error) {
	typing, ok := r["typing"].(bool)
	if !ok {
		return Signal{}, fmt.Errorf("%w: typing flag", errMalformed)
	}
	s := Signal{
		ConversationID: r.String("conversation_id"),
		ActorID:        r.String("actor_id"),
		ActorKind:      ActorKind(r.String("actor_kind")),
		Typing:         typing,
	}
	if s.ConversationID == "" || s.ActorID == "" {
		return Signal{}, fmt.Errorf("%w: missing conversation or actor", errMalformed)
	}
	if at := r.String("at"); at != "" {
		n, err := strconv.ParseInt(at, 10, 64)
		if err != nil {
			return Signal{}, fmt.Errorf("%w: at %q", errMalformed, at)
		}
		s.At = n
	}
	return s, nil
}
