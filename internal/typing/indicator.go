package typing

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/deskline/internal/clock"
	"github.com/matheus3301/deskline/internal/model"
	"go.uber.org/zap"
)

// State is the producer state of an Indicator.
type State string

const (
	Idle   State = "IDLE"
	Typing State = "TYPING"
)

var validTransitions = map[State][]State{
	Idle:   {Typing},
	Typing: {Idle},
}

const sendTimeout = 5 * time.Second

// Sender delivers a payload on a broadcast channel. realtime.Channel satisfies it.
type Sender interface {
	Send(ctx context.Context, event string, payload model.Row) error
}

// Indicator turns local input activity into typing signals: true when typing
// starts, false after the idle timeout, on send, or when the input is cleared.
// Keystrokes while already typing only push the timeout back.
//
// Transitions happen on the caller's goroutine; signals are queued and sent
// in order by a background sender, so callers never wait on the network.
type Indicator struct {
	out     Sender
	convID  string
	actor   Actor
	timeout time.Duration
	clock   clock.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	timer   clock.Timer
	gen     uint64
	pending []Signal
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewIndicator creates an Idle indicator. Zero timeout uses DefaultIdleTimeout.
func NewIndicator(out Sender, conversationID string, actor Actor, timeout time.Duration, clk clock.Clock, logger *zap.Logger) *Indicator {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Indicator{
		out:     out,
		convID:  conversationID,
		actor:   actor,
		timeout: timeout,
		clock:   clk,
		logger:  logger,
		state:   Idle,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go i.run()
	return i
}

// State returns the current state.
func (i *Indicator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// InputChanged reports the composer's new content. Empty input while typing
// counts as clearing it.
func (i *Indicator) InputChanged(text string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}

	switch {
	case text == "":
		if i.state == Typing {
			i.stopLocked()
		}
	case i.state == Idle:
		if i.transitionLocked(Typing) {
			i.emitLocked(true)
			i.armLocked()
		}
	default:
		i.armLocked()
	}
}

// Sent reports that the composed message was sent.
func (i *Indicator) Sent() { i.Clear() }

// Clear ends typing immediately if it is active.
func (i *Indicator) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == Typing {
		i.stopLocked()
	}
}

// Close clears typing and stops the sender once the queued signals are out.
// It does not wait; Done is closed when the sender has finished. Input after
// Close is ignored.
func (i *Indicator) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	if i.state == Typing {
		i.stopLocked()
	}
	i.closed = true
	i.notifyLocked()
}

// Done is closed after Close once every queued signal has been sent.
func (i *Indicator) Done() <-chan struct{} { return i.done }

func (i *Indicator) transitionLocked(to State) bool {
	if !slices.Contains(validTransitions[i.state], to) {
		i.logger.Debug("ignored typing transition", zap.String("from", string(i.state)), zap.String("to", string(to)))
		return false
	}
	i.state = to
	return true
}

func (i *Indicator) stopLocked() {
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.gen++
	if i.transitionLocked(Idle) {
		i.emitLocked(false)
	}
}

// armLocked (re)starts the idle timer. A callback from an older timer sees a
// different generation and does nothing.
func (i *Indicator) armLocked() {
	if i.timer != nil {
		i.timer.Stop()
	}
	i.gen++
	gen := i.gen
	i.timer = i.clock.AfterFunc(i.timeout, func() { i.expire(gen) })
}

func (i *Indicator) expire(gen uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if gen != i.gen || i.state != Typing {
		return
	}
	i.timer = nil
	i.stopLocked()
}

// emitLocked queues a signal. The queue keeps transition order.
func (i *Indicator) emitLocked(typing bool) {
	if i.out == nil {
		return
	}
	i.pending = append(i.pending, Signal{
		ConversationID: i.convID,
		ActorID:        i.actor.ID,
		ActorKind:      i.actor.Kind,
		Typing:         typing,
		At:             i.clock.Now().UnixMilli(),
	})
	i.notifyLocked()
}

func (i *Indicator) notifyLocked() {
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

// run sends queued signals one at a time until the indicator is closed and
// the queue is empty.
func (i *Indicator) run() {
	defer close(i.done)
	for range i.wake {
		for {
			i.mu.Lock()
			if len(i.pending) == 0 {
				closed := i.closed
				i.mu.Unlock()
				if closed {
					return
				}
				break
			}
			sig := i.pending[0]
			i.pending = i.pending[1:]
			i.mu.Unlock()
			i.send(sig)
		}
	}
}

// send delivers one signal. A failed send is logged; the local state has
// already changed.
func (i *Indicator) send(sig Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := i.out.Send(ctx, Event, sig.Row()); err != nil {
		i.logger.Warn("failed to send typing signal",
			zap.String("conversation_id", i.convID),
			zap.Bool("typing", sig.Typing),
			zap.Error(fmt.Errorf("send: %w", err)),
		)
	}
}
