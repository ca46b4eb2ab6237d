package typing

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/deskline/internal/clock"
	"github.com/matheus3301/deskline/internal/realtime"
	"go.uber.org/zap"
)

// Options tune a Session. Zero values use the defaults.
type Options struct {
	IdleTimeout time.Duration
	StaleAfter  time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Session is one participant's typing presence in one conversation: an
// Indicator for the local user and a Tracker for everyone else, sharing a
// joined channel.
type Session struct {
	Indicator *Indicator
	Tracker   *Tracker
	channel   realtime.Channel
}

// Join joins the conversation's typing channel through b.
func Join(ctx context.Context, b realtime.Broadcaster, conversationID string, self Actor, opts Options) (*Session, error) {
	tracker := NewTracker(conversationID, self.ID, opts.StaleAfter, opts.Clock, opts.Logger)
	ch, err := b.Join(ctx, ChannelName(conversationID), tracker.Handle)
	if err != nil {
		return nil, fmt.Errorf("join typing channel: %w", err)
	}
	return &Session{
		Indicator: NewIndicator(ch, conversationID, self, opts.IdleTimeout, opts.Clock, opts.Logger),
		Tracker:   tracker,
		channel:   ch,
	}, nil
}

// Leave announces that typing stopped and leaves the channel once that
// signal is out. It does not wait for the network; see Done.
func (s *Session) Leave() {
	s.Indicator.Close()
	s.Tracker.Reset()
	go func() {
		<-s.Indicator.Done()
		s.channel.Leave()
	}()
}

// Done is closed after Leave once the final signal has been sent.
func (s *Session) Done() <-chan struct{} { return s.Indicator.Done() }
