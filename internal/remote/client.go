package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/realtime"
	"github.com/matheus3301/deskline/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to desklined over gRPC. It implements realtime.Subscriber and
// realtime.Broadcaster so the sync layer can run against a remote service.
type Client struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// Dial creates a client for cfg. Extra options are appended after the
// defaults, which lets tests swap the dialer.
func Dial(cfg Config, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	if !cfg.Complete() {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	key := cfg.APIKey
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			return invoker(withKey(ctx, key), method, req, reply, cc, opts...)
		}),
		grpc.WithStreamInterceptor(func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			return streamer(withKey(ctx, key), desc, cc, method, opts...)
		}),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Endpoint, err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

func withKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, wire.APIKeyHeader, key)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Select runs q against the service.
func (c *Client) Select(ctx context.Context, q model.Query) ([]model.Row, error) {
	req, err := wire.EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	resp, err := wire.Invoke(ctx, c.conn, "Select", req)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Collection, err)
	}
	return wire.DecodeRows(resp), nil
}

// Insert stores row and returns the stored row.
func (c *Client) Insert(ctx context.Context, collection, orgID string, row model.Row) (model.Row, error) {
	return c.write(ctx, "Insert", wire.WriteRequest{Collection: collection, OrgID: orgID, Row: row})
}

// Update patches the row with the given id and returns the new row.
func (c *Client) Update(ctx context.Context, collection, orgID, id string, patch model.Row) (model.Row, error) {
	return c.write(ctx, "Update", wire.WriteRequest{Collection: collection, OrgID: orgID, ID: id, Row: patch})
}

// Delete removes the row with the given id and returns it.
func (c *Client) Delete(ctx context.Context, collection, orgID, id string) (model.Row, error) {
	return c.write(ctx, "Delete", wire.WriteRequest{Collection: collection, OrgID: orgID, ID: id})
}

func (c *Client) write(ctx context.Context, method string, w wire.WriteRequest) (model.Row, error) {
	req, err := wire.EncodeWrite(w)
	if err != nil {
		return nil, err
	}
	resp, err := wire.Invoke(ctx, c.conn, method, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, w.Collection, err)
	}
	return wire.DecodeRowResponse(resp), nil
}

// Publish sends a transient payload to everyone listening on channel.
func (c *Client) Publish(ctx context.Context, channel, event string, payload model.Row) error {
	req, err := wire.EncodeBroadcast(realtime.Message{Channel: channel, Event: event, Payload: payload})
	if err != nil {
		return err
	}
	if _, err := wire.Invoke(ctx, c.conn, "Broadcast", req); err != nil {
		return fmt.Errorf("broadcast %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Watch stream and returns once the service has confirmed
// it, so no change committed afterwards is missed. onEvent runs on the
// stream's goroutine.
func (c *Client) Subscribe(ctx context.Context, collection string, filter realtime.Filter, onEvent func(model.Change)) (realtime.Unsubscribe, error) {
	req, err := wire.EncodeWatch(wire.WatchRequest{Collection: collection, Filter: filter})
	if err != nil {
		return nil, err
	}
	stop, err := c.stream(ctx, "Watch", req, func(f wire.Frame) {
		if f.Change.Collection != collection {
			return
		}
		onEvent(f.Change)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}
	return realtime.Unsubscribe(stop), nil
}

// Join opens a Listen stream on channel.
func (c *Client) Join(ctx context.Context, channel string, onMessage func(realtime.Message)) (realtime.Channel, error) {
	req, err := wire.EncodeListen(channel)
	if err != nil {
		return nil, err
	}
	stop, err := c.stream(ctx, "Listen", req, func(f wire.Frame) {
		if f.Op == wire.OpBroadcast {
			onMessage(f.Message)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", channel, err)
	}
	return &Channel{client: c, name: channel, stop: stop}, nil
}

// stream opens a server stream, waits for the SUBSCRIBED frame and then
// feeds every later frame to onFrame until stopped.
func (c *Client) stream(ctx context.Context, method string, req *structpb.Struct, onFrame func(wire.Frame)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	s, err := wire.OpenStream(ctx, c.conn, method, req)
	if err != nil {
		cancel()
		return nil, err
	}
	first, err := recv(s)
	if err != nil {
		cancel()
		return nil, err
	}
	if first.Op != wire.OpSubscribed {
		cancel()
		return nil, fmt.Errorf("unexpected first frame %q", first.Op)
	}

	var (
		mu     sync.Mutex
		closed bool
	)
	stop := func() {
		mu.Lock()
		closed = true
		mu.Unlock()
		cancel()
	}

	go func() {
		defer cancel()
		for {
			f, err := recv(s)
			if err != nil {
				mu.Lock()
				wasClosed := closed
				mu.Unlock()
				if !wasClosed && !errors.Is(err, io.EOF) && ctx.Err() == nil {
					c.logger.Warn("stream ended", zap.String("method", method), zap.Error(err))
				}
				return
			}
			mu.Lock()
			wasClosed := closed
			mu.Unlock()
			if wasClosed {
				return
			}
			onFrame(f)
		}
	}()
	return stop, nil
}

func recv(s grpc.ClientStream) (wire.Frame, error) {
	for {
		in := new(structpb.Struct)
		if err := s.RecvMsg(in); err != nil {
			return wire.Frame{}, err
		}
		f, err := wire.DecodeFrame(in)
		if err != nil {
			// Unknown frames are skipped so older clients survive newer servers.
			continue
		}
		return f, nil
	}
}

// Channel is a broadcast channel joined through the remote service.
type Channel struct {
	client *Client
	name   string
	stop   func()
}

// Send publishes payload on the channel.
func (ch *Channel) Send(ctx context.Context, event string, payload model.Row) error {
	return ch.client.Publish(ctx, ch.name, event, payload)
}

// Leave closes the Listen stream.
func (ch *Channel) Leave() {
	ch.stop()
}
