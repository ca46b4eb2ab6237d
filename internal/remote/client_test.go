package remote

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/deskline/internal/bus"
	"github.com/matheus3301/deskline/internal/engine"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/realtime"
	"github.com/matheus3301/deskline/internal/server"
	"github.com/matheus3301/deskline/internal/store"
	"github.com/matheus3301/deskline/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const testKey = "test-key"

// testService starts an in-memory desklined and returns dial options that
// reach it.
func testService(t *testing.T) []grpc.DialOption {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	local := realtime.NewLocal(b, nil)
	ks := server.NewKeySet([]string{testKey})
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(server.UnaryInterceptor(ks, zap.NewNop())),
		grpc.StreamInterceptor(server.StreamInterceptor(ks, zap.NewNop())),
	)
	wire.RegisterDataServiceServer(srv, server.NewDataService(db, engine.New(db, b, zap.NewNop()), local, local, zap.NewNop()))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
	}
}

func testClient(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(Config{Endpoint: "passthrough:///bufnet", APIKey: testKey}, nil, testService(t)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func seedConversation(t *testing.T, c *Client) string {
	t.Helper()
	ctx := context.Background()
	if _, err := c.Insert(ctx, model.Organizations, "o1", model.Row{"name": "Acme"}); err != nil {
		t.Fatal(err)
	}
	cust, err := c.Insert(ctx, model.Customers, "o1", model.Row{"name": "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	conv, err := c.Insert(ctx, model.Conversations, "o1", model.Row{"customer_id": cust.String("id")})
	if err != nil {
		t.Fatal(err)
	}
	return conv.String("id")
}

func TestProviderWithoutConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty", Config{}},
		{"no key", Config{Endpoint: "localhost:7070"}},
		{"no endpoint", Config{APIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.cfg, nil)
			if p.Get() != nil {
				t.Error("expected nil client")
			}
			if p.Get() != nil {
				t.Error("expected nil client on second call")
			}
		})
	}
}

func TestProviderReusesClient(t *testing.T) {
	p := NewProvider(Config{Endpoint: "passthrough:///bufnet", APIKey: testKey}, nil, testService(t)...)
	defer func() { _ = p.Close() }()

	first := p.Get()
	if first == nil {
		t.Fatal("expected client")
	}
	if second := p.Get(); second != first {
		t.Error("provider constructed a second client")
	}
	_ = p.Close()
	if p.Get() != nil {
		t.Error("closed provider should not construct a new client")
	}
}

func TestClientCRUD(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	convID := seedConversation(t, c)

	msg, err := c.Insert(ctx, model.Messages, "o1", model.Row{
		"conversation_id": convID, "sender_kind": "AGENT", "body": "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.String("body") != "hello" {
		t.Errorf("inserted = %v", msg)
	}

	rows, err := c.Select(ctx, model.Query{
		Collection: model.Messages,
		OrgID:      "o1",
		Filters:    []model.Eq{{Column: "conversation_id", Value: convID}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d messages", len(rows))
	}

	updated, err := c.Update(ctx, model.Conversations, "o1", convID, model.Row{"status": "closed"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.String("status") != "closed" {
		t.Errorf("status = %q", updated.String("status"))
	}

	if _, err := c.Delete(ctx, model.Messages, "o1", msg.String("id")); err != nil {
		t.Fatal(err)
	}
}

func TestClientRejectedWithWrongKey(t *testing.T) {
	c, err := Dial(Config{Endpoint: "passthrough:///bufnet", APIKey: "wrong"}, nil, testService(t)...)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	if _, err := c.Select(context.Background(), model.Query{Collection: model.Agents, OrgID: "o1"}); err == nil {
		t.Error("expected error with wrong key")
	}
}

func TestClientSubscribe(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	convID := seedConversation(t, c)

	got := make(chan model.Change, 4)
	unsub, err := c.Subscribe(ctx, model.Messages,
		realtime.Filter{OrgID: "o1", Column: "conversation_id", Value: convID},
		func(ch model.Change) { got <- ch })
	if err != nil {
		t.Fatal(err)
	}

	// Subscribe returned after the server confirmed, so this insert is delivered.
	if _, err := c.Insert(ctx, model.Messages, "o1", model.Row{
		"id": "m1", "conversation_id": convID, "sender_kind": "CUSTOMER", "body": "hello",
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case ch := <-got:
		if ch.Op != model.OpInsert || ch.Record.String("id") != "m1" {
			t.Errorf("change = %+v", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	unsub()
	unsub()
	if _, err := c.Insert(ctx, model.Messages, "o1", model.Row{
		"id": "m2", "conversation_id": convID, "sender_kind": "CUSTOMER", "body": "again",
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case ch := <-got:
		t.Errorf("change after unsubscribe: %+v", ch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientJoinAndSend(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	got := make(chan realtime.Message, 4)
	ch, err := c.Join(ctx, "typing:c1", func(m realtime.Message) { got <- m })
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Leave()

	if err := ch.Send(ctx, "typing", model.Row{"actor_id": "a1", "typing": true}); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-got:
		if m.Event != "typing" || m.Payload["typing"] != true {
			t.Errorf("message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}

	if _, err := c.Join(ctx, "bad channel", func(realtime.Message) {}); err == nil {
		t.Error("expected error for invalid channel")
	}
}
