package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"

	"github.com/matheus3301/deskline/internal/bus"
	"github.com/matheus3301/deskline/internal/engine"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/realtime"
	"github.com/matheus3301/deskline/internal/store"
	"github.com/matheus3301/deskline/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func testConn(t *testing.T, keys ...string) *grpc.ClientConn {
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
	svc := NewDataService(db, engine.New(db, b, zap.NewNop()), local, local, zap.NewNop())

	ks := NewKeySet(keys)
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(UnaryInterceptor(ks, zap.NewNop())),
		grpc.StreamInterceptor(StreamInterceptor(ks, zap.NewNop())),
	)
	wire.RegisterDataServiceServer(srv, svc)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func withKey(key string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), wire.APIKeyHeader, key)
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{store.ErrNotFound, codes.NotFound},
		{fmt.Errorf("wrapped: %w", store.ErrUnknownCollection), codes.InvalidArgument},
		{store.ErrInvalidColumn, codes.InvalidArgument},
		{store.ErrScope, codes.InvalidArgument},
		{realtime.ErrInvalidChannel, codes.InvalidArgument},
		{store.ErrConstraint, codes.FailedPrecondition},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := grpcstatus.Code(toStatus("op", tt.err)); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeySet(t *testing.T) {
	if !NewKeySet(nil).Valid("anything") {
		t.Error("empty key set should accept any key")
	}
	ks := NewKeySet([]string{"", "secret"})
	if !ks.Enabled() {
		t.Fatal("key set should be enabled")
	}
	if ks.Valid("") || ks.Valid("wrong") {
		t.Error("unexpected key accepted")
	}
	if !ks.Valid("secret") {
		t.Error("configured key rejected")
	}
}

func TestUnaryRequiresAPIKey(t *testing.T) {
	conn := testConn(t, "secret")
	req, err := wire.EncodeQuery(model.Query{Collection: model.Agents, OrgID: "o1"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = wire.Invoke(context.Background(), conn, "Select", req)
	if grpcstatus.Code(err) != codes.Unauthenticated {
		t.Errorf("no key: code = %v, want Unauthenticated", grpcstatus.Code(err))
	}
	_, err = wire.Invoke(withKey("wrong"), conn, "Select", req)
	if grpcstatus.Code(err) != codes.Unauthenticated {
		t.Errorf("wrong key: code = %v, want Unauthenticated", grpcstatus.Code(err))
	}
	if _, err := wire.Invoke(withKey("secret"), conn, "Select", req); err != nil {
		t.Errorf("valid key: %v", err)
	}
}

func TestInsertSelectOverGRPC(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()

	req, err := wire.EncodeWrite(wire.WriteRequest{Collection: model.Organizations, OrgID: "o1", Row: model.Row{"name": "Acme"}})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := wire.Invoke(ctx, conn, "Insert", req)
	if err != nil {
		t.Fatal(err)
	}
	if row := wire.DecodeRowResponse(resp); row.String("id") != "o1" || row.String("name") != "Acme" {
		t.Errorf("inserted row = %v", row)
	}

	sel, err := wire.EncodeQuery(model.Query{Collection: model.Organizations, OrgID: "o1"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err = wire.Invoke(ctx, conn, "Select", sel)
	if err != nil {
		t.Fatal(err)
	}
	if rows := wire.DecodeRows(resp); len(rows) != 1 {
		t.Errorf("got %d rows, want 1", len(rows))
	}

	bad, err := wire.EncodeQuery(model.Query{Collection: "widgets", OrgID: "o1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wire.Invoke(ctx, conn, "Select", bad); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("unknown collection: code = %v", grpcstatus.Code(err))
	}

	upd, err := wire.EncodeWrite(wire.WriteRequest{Collection: model.Organizations, OrgID: "o1", ID: "missing", Row: model.Row{"name": "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wire.Invoke(ctx, conn, "Update", upd); grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("missing row: code = %v", grpcstatus.Code(err))
	}
}

func TestWatchSendsSubscribedThenChanges(t *testing.T) {
	conn := testConn(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watch, err := wire.EncodeWatch(wire.WatchRequest{Collection: model.Organizations, Filter: realtime.Filter{OrgID: "o1"}})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := wire.OpenStream(ctx, conn, "Watch", watch)
	if err != nil {
		t.Fatal(err)
	}

	frame := recvFrame(t, stream)
	if frame.Op != wire.OpSubscribed {
		t.Fatalf("first frame op = %q, want SUBSCRIBED", frame.Op)
	}

	req, err := wire.EncodeWrite(wire.WriteRequest{Collection: model.Organizations, OrgID: "o1", Row: model.Row{"name": "Acme"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wire.Invoke(ctx, conn, "Insert", req); err != nil {
		t.Fatal(err)
	}

	frame = recvFrame(t, stream)
	if frame.Change.Op != model.OpInsert || frame.Change.Record.String("name") != "Acme" {
		t.Errorf("change frame = %+v", frame.Change)
	}
}

func TestListenReceivesBroadcast(t *testing.T) {
	conn := testConn(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listen, err := wire.EncodeListen("typing:c1")
	if err != nil {
		t.Fatal(err)
	}
	stream, err := wire.OpenStream(ctx, conn, "Listen", listen)
	if err != nil {
		t.Fatal(err)
	}
	if f := recvFrame(t, stream); f.Op != wire.OpSubscribed {
		t.Fatalf("first frame op = %q", f.Op)
	}

	msg, err := wire.EncodeBroadcast(realtime.Message{Channel: "typing:c1", Event: "typing", Payload: model.Row{"actor_id": "a1"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wire.Invoke(ctx, conn, "Broadcast", msg); err != nil {
		t.Fatal(err)
	}

	f := recvFrame(t, stream)
	if f.Op != wire.OpBroadcast || f.Message.Payload.String("actor_id") != "a1" {
		t.Errorf("broadcast frame = %+v", f)
	}
}

func recvFrame(t *testing.T, stream grpc.ClientStream) wire.Frame {
	t.Helper()
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		t.Fatal(err)
	}
	f, err := wire.DecodeFrame(in)
	if err != nil {
		t.Fatal(err)
	}
	return f
}
