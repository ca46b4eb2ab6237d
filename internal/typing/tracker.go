package typing

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/deskline/internal/clock"
	"github.com/matheus3301/deskline/internal/realtime"
	"go.uber.org/zap"
)

type peer struct {
	actor    Actor
	lastSeen time.Time
}

// Tracker keeps the set of other participants currently typing in one
// conversation. It holds at most one entry per actor.
type Tracker struct {
	convID string
	self   string
	stale  time.Duration
	clock  clock.Clock
	logger *zap.Logger

	mu    sync.Mutex
	peers map[string]peer
	sweep clock.Timer

	changes chan struct{}
}

// NewTracker creates a tracker for conversationID that ignores selfID.
// Peers not heard from within staleAfter are dropped; zero uses
// DefaultStaleAfter and a negative value disables expiry.
func NewTracker(conversationID, selfID string, staleAfter time.Duration, clk clock.Clock, logger *zap.Logger) *Tracker {
	if staleAfter == 0 {
		staleAfter = DefaultStaleAfter
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		convID:  conversationID,
		self:    selfID,
		stale:   staleAfter,
		clock:   clk,
		logger:  logger,
		peers:   make(map[string]peer),
		changes: make(chan struct{}, 1),
	}
}

// Changes signals (coalesced) whenever the peer set changes.
func (t *Tracker) Changes() <-chan struct{} { return t.changes }

func (t *Tracker) notify() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
}

// Handle applies one broadcast message.
func (t *Tracker) Handle(msg realtime.Message) {
	if msg.Event != Event {
		return
	}
	sig, err := ParseSignal(msg.Payload)
	if err != nil {
		t.logger.Debug("ignoring typing payload", zap.Error(err))
		return
	}
	if sig.ConversationID != t.convID || sig.ActorID == t.self {
		return
	}

	t.mu.Lock()
	changed := false
	if sig.Typing {
		_, known := t.peers[sig.ActorID]
		t.peers[sig.ActorID] = peer{actor: Actor{ID: sig.ActorID, Kind: sig.ActorKind}, lastSeen: t.clock.Now()}
		changed = !known
		t.armSweepLocked()
	} else if _, known := t.peers[sig.ActorID]; known {
		delete(t.peers, sig.ActorID)
		changed = true
	}
	t.mu.Unlock()

	if changed {
		t.notify()
	}
}

// Peers returns the actors currently typing, ordered by id.
func (t *Tracker) Peers() []Actor {
	t.mu.Lock()
	t.pruneLocked()
	out := make([]Actor, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p.actor)
	}
	t.mu.Unlock()
	slices.SortFunc(out, func(a, b Actor) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Typing reports whether anyone else is typing.
func (t *Tracker) Typing() bool {
	return len(t.Peers()) > 0
}

// Reset forgets every peer and stops the expiry timer.
func (t *Tracker) Reset() {
	t.mu.Lock()
	had := len(t.peers) > 0
	clear(t.peers)
	if t.sweep != nil {
		t.sweep.Stop()
		t.sweep = nil
	}
	t.mu.Unlock()
	if had {
		t.notify()
	}
}

func (t *Tracker) pruneLocked() bool {
	if t.stale < 0 {
		return false
	}
	now := t.clock.Now()
	removed := false
	for id, p := range t.peers {
		if now.Sub(p.lastSeen) >= t.stale {
			delete(t.peers, id)
			removed = true
			t.logger.Debug("typing peer expired", zap.String("actor_id", id))
		}
	}
	return removed
}

func (t *Tracker) armSweepLocked() {
	if t.stale < 0 || t.sweep != nil {
		return
	}
	t.sweep = t.clock.AfterFunc(t.stale, t.runSweep)
}

func (t *Tracker) runSweep() {
	t.mu.Lock()
	t.sweep = nil
	removed := t.pruneLocked()
	if len(t.peers) > 0 {
		// Re-check when the oldest remaining peer would go stale.
		oldest := t.clock.Now()
		for _, p := range t.peers {
			if p.lastSeen.Before(oldest) {
				oldest = p.lastSeen
			}
		}
		t.sweep = t.clock.AfterFunc(t.stale-t.clock.Now().Sub(oldest), t.runSweep)
	}
	t.mu.Unlock()
	if removed {
		t.notify()
	}
}
