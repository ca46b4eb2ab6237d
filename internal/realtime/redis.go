package realtime

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/matheus3301/deskline/internal/metrics"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("realtime: cbor encoder: " + err.Error())
	}
	// Payloads are decoded into map[string]any, never map[any]any.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("realtime: cbor decoder: " + err.Error())
	}
}

// envelope is the CBOR body of a Redis broadcast.
type envelope struct {
	Event   string         `cbor:"e"`
	Payload map[string]any `cbor:"p"`
}

func encodeEnvelope(event string, payload model.Row) ([]byte, error) {
	return encMode.Marshal(envelope{Event: event, Payload: payload})
}

func decodeEnvelope(data []byte) (string, model.Row, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	return env.Event, model.Row(env.Payload), nil
}

func redisKey(channel string) string {
	return fmt.Sprintf("deskline:broadcast:%s", channel)
}

// Redis fans broadcasts out through Redis pub/sub so several daemons share
// the same channels.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger}, nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Publish sends payload to every subscriber of channel on any daemon.
func (r *Redis) Publish(ctx context.Context, channel, event string, payload model.Row) error {
	if !ValidChannel(channel) {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	if err := r.client.Publish(ctx, redisKey(channel), data).Err(); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	metrics.BroadcastsSent.WithLabelValues("redis").Inc()
	return nil
}

// Join subscribes to channel. It returns once Redis has confirmed the
// subscription, so nothing published afterwards is missed.
func (r *Redis) Join(ctx context.Context, channel string, onMessage func(Message)) (Channel, error) {
	if !ValidChannel(channel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	ps := r.client.Subscribe(ctx, redisKey(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	var once sync.Once
	leave := func() { once.Do(func() { _ = ps.Close() }) }

	msgs := ps.Channel()
	go func() {
		for {
			select {
			case m, ok := <-msgs:
				if !ok {
					return
				}
				event, payload, err := decodeEnvelope([]byte(m.Payload))
				if err != nil {
					r.logger.Debug("dropping undecodable broadcast", zap.String("channel", channel), zap.Error(err))
					continue
				}
				onMessage(Message{Channel: channel, Event: event, Payload: payload})
			case <-ctx.Done():
				leave()
				return
			}
		}
	}()
	return &publisherChannel{name: channel, pub: r, leave: leave}, nil
}
