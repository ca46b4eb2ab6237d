package viewmodel

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/deskline/internal/bus"
	"github.com/matheus3301/deskline/internal/clock"
	"github.com/matheus3301/deskline/internal/engine"
	"github.com/matheus3301/deskline/internal/local"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/realtime"
	"github.com/matheus3301/deskline/internal/store"
	"github.com/matheus3301/deskline/internal/typing"
	"go.uber.org/zap"
)

// testBackend runs the data service in process.
type testBackend struct {
	*realtime.Local
	db     *store.DB
	eng    *engine.Engine
	events *bus.Bus
}

func (b *testBackend) Select(ctx context.Context, q model.Query) ([]model.Row, error) {
	return b.db.Select(ctx, q)
}

func (b *testBackend) Insert(ctx context.Context, collection, orgID string, row model.Row) (model.Row, error) {
	return b.eng.Insert(ctx, collection, orgID, row)
}

func (b *testBackend) Update(ctx context.Context, collection, orgID, id string, patch model.Row) (model.Row, error) {
	return b.eng.Update(ctx, collection, orgID, id, patch)
}

type fixture struct {
	backend *testBackend
	agentID string
	custA   string
	custB   string
	convA   string
	convB   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "vm.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	be := &testBackend{Local: realtime.NewLocal(b, nil), db: db, eng: engine.New(db, b, zap.NewNop()), events: b}

	ctx := context.Background()
	must := func(r model.Row, err error) model.Row {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return r
	}
	must(be.Insert(ctx, model.Organizations, "o1", model.Row{"name": "Acme"}))
	f := &fixture{backend: be}
	f.agentID = must(be.Insert(ctx, model.Agents, "o1", model.Row{"name": "Grace"})).String("id")
	f.custA = must(be.Insert(ctx, model.Customers, "o1", model.Row{"name": "Ada"})).String("id")
	f.custB = must(be.Insert(ctx, model.Customers, "o1", model.Row{"name": "Linus"})).String("id")
	f.convA = must(be.Insert(ctx, model.Conversations, "o1", model.Row{"customer_id": f.custA, "last_message_at": int64(200)})).String("id")
	f.convB = must(be.Insert(ctx, model.Conversations, "o1", model.Row{"customer_id": f.custB, "last_message_at": int64(100)})).String("id")
	return f
}

func (f *fixture) agent() local.Identity {
	return local.Identity{ActorID: f.agentID, ActorKind: "agent", OrgID: "o1"}
}

func (f *fixture) customer() local.Identity {
	return local.Identity{ActorID: f.custA, ActorKind: "customer", OrgID: "o1"}
}

func startVM(t *testing.T, b Backend, opts Options) *ViewModel {
	t.Helper()
	vm, err := NewViewModel(b, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := vm.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(vm.Close)
	return vm
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewViewModelRequiresIdentity(t *testing.T) {
	if _, err := NewViewModel(nil, Options{}); err == nil {
		t.Error("empty identity should be rejected")
	}
	if _, err := NewViewModel(nil, Options{Identity: local.Identity{ActorID: "a", ActorKind: "robot", OrgID: "o1"}}); err == nil {
		t.Error("unknown actor kind should be rejected")
	}
}

func TestUnconfiguredBackendIsEmpty(t *testing.T) {
	vm := startVM(t, nil, Options{Identity: local.Identity{ActorID: "a1", ActorKind: "agent", OrgID: "o1"}})

	if got := vm.Conversations(); len(got) != 0 {
		t.Errorf("Conversations() = %v, want empty", got)
	}
	if _, err := vm.Open("c1"); err != nil {
		t.Errorf("Open() error = %v", err)
	}
	if st := vm.Timeline(); len(st.Messages) != 0 || st.Loading {
		t.Errorf("Timeline() = %+v", st)
	}
}

func TestAgentSeesAllConversationsWithNames(t *testing.T) {
	f := newFixture(t)
	vm := startVM(t, f.backend, Options{Identity: f.agent()})

	items := vm.Conversations()
	if len(items) != 2 {
		t.Fatalf("got %d conversations, want 2", len(items))
	}
	if items[0].ID != f.convA || items[0].CustomerName != "Ada" {
		t.Errorf("first = %+v, want convA with Ada", items[0])
	}
	if items[1].CustomerName != "Linus" {
		t.Errorf("second name = %q", items[1].CustomerName)
	}
}

func TestCustomerSeesOwnConversations(t *testing.T) {
	f := newFixture(t)
	vm := startVM(t, f.backend, Options{Identity: f.customer()})

	items := vm.Conversations()
	if len(items) != 1 || items[0].ID != f.convA {
		t.Errorf("customer conversations = %+v, want only convA", items)
	}
}

func TestConversationListFollowsChanges(t *testing.T) {
	f := newFixture(t)
	vm := startVM(t, f.backend, Options{Identity: f.agent()})

	if _, err := f.backend.Insert(context.Background(), model.Conversations, "o1", model.Row{"customer_id": f.custB}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "new conversation", func() bool { return len(vm.Conversations()) == 3 })
}

func TestOpenSendKeepsDraftsAndTimeline(t *testing.T) {
	f := newFixture(t)
	drafts, err := local.OpenPersistent(filepath.Join(t.TempDir(), "state.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := drafts.SetDraft(f.convA, "half written"); err != nil {
		t.Fatal(err)
	}
	vm := startVM(t, f.backend, Options{Identity: f.agent(), Drafts: drafts})

	draft, err := vm.Open(f.convA)
	if err != nil {
		t.Fatal(err)
	}
	if draft != "half written" {
		t.Errorf("draft = %q", draft)
	}

	vm.InputChanged("hello there")
	if got := drafts.Draft(f.convA); got != "hello there" {
		t.Errorf("saved draft = %q", got)
	}

	if err := vm.Send(context.Background(), "  hello there  "); err != nil {
		t.Fatal(err)
	}
	st := vm.Timeline()
	if len(st.Messages) != 1 || st.Messages[0].Body != "hello there" || st.Messages[0].SenderKind != model.SenderAgent {
		t.Fatalf("timeline = %+v", st.Messages)
	}
	if got := drafts.Draft(f.convA); got != "" {
		t.Errorf("draft after send = %q, want cleared", got)
	}

	// The subscription delivers the same row again; it must not duplicate.
	time.Sleep(50 * time.Millisecond)
	if n := len(vm.Timeline().Messages); n != 1 {
		t.Errorf("timeline has %d messages after echo, want 1", n)
	}

	if err := vm.Send(context.Background(), "   "); err != nil {
		t.Errorf("blank send error = %v", err)
	}
}

func TestTypingPresenceBetweenParticipants(t *testing.T) {
	f := newFixture(t)
	vm := startVM(t, f.backend, Options{Identity: f.agent()})
	if _, err := vm.Open(f.convA); err != nil {
		t.Fatal(err)
	}

	peer, err := typing.Join(context.Background(), f.backend, f.convA,
		typing.Actor{ID: f.custA, Kind: typing.Customer}, typing.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Leave()

	peer.Indicator.InputChanged("hi")
	eventually(t, "customer typing", func() bool { return vm.TypingLabel() == "customer is typing..." })

	vm.InputChanged("on it")
	eventually(t, "agent typing seen by peer", func() bool { return peer.Tracker.Typing() })

	peer.Indicator.Sent()
	eventually(t, "customer stopped", func() bool { return vm.TypingLabel() == "" })

	vm.CloseConversation()
	eventually(t, "agent left", func() bool { return !peer.Tracker.Typing() })
}

func TestOverlappingOpensLeaveNoStraySession(t *testing.T) {
	f := newFixture(t)
	vm := startVM(t, f.backend, Options{Identity: f.agent()})
	baseline := f.backend.events.Subscribers()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = vm.Open(f.convA)
		}()
	}
	wg.Wait()

	if vm.ActiveID() != f.convA {
		t.Fatalf("active = %q", vm.ActiveID())
	}
	vm.CloseConversation()
	eventually(t, "every session left", func() bool {
		return f.backend.events.Subscribers() == baseline
	})
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cust := startVM(t, f.backend, Options{Identity: f.customer()})
	if _, err := cust.Open(f.convA); err != nil {
		t.Fatal(err)
	}
	if err := cust.SetStatus(ctx, model.StatusClosed); !errors.Is(err, ErrAgentOnly) {
		t.Errorf("customer SetStatus error = %v, want ErrAgentOnly", err)
	}

	agent := startVM(t, f.backend, Options{Identity: f.agent()})
	if err := agent.SetStatus(ctx, model.StatusClosed); err == nil {
		t.Error("SetStatus without an open conversation should fail")
	}
	if _, err := agent.Open(f.convA); err != nil {
		t.Fatal(err)
	}
	if err := agent.SetStatus(ctx, model.StatusPending); err != nil {
		t.Fatal(err)
	}
	for _, item := range agent.Conversations() {
		if item.ID == f.convA && item.Status != model.StatusPending {
			t.Errorf("status = %q, want pending", item.Status)
		}
	}
}

func TestSessionTracksWorkingState(t *testing.T) {
	f := newFixture(t)
	sess := local.NewSession()
	sess.SetActiveOrg("o1")

	ident := f.agent()
	ident.OrgID = "o-stale"
	vm := startVM(t, f.backend, Options{Identity: ident, Session: sess})

	if n := len(vm.Conversations()); n != 2 {
		t.Fatalf("got %d conversations, want the session org's 2", n)
	}
	if _, err := vm.Open(f.convB); err != nil {
		t.Fatal(err)
	}
	if got, _ := sess.Get(KeyActiveConversation); got != f.convB {
		t.Errorf("active conversation = %q", got)
	}
	vm.CloseConversation()
	if got, _ := sess.Get(KeyActiveConversation); got != "" {
		t.Errorf("active conversation after close = %q", got)
	}
}

func TestFlashExpires(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	fl := NewFlash(clk)
	fl.Set("sent", 3*time.Second)
	if fl.Get() != "sent" {
		t.Errorf("Get() = %q", fl.Get())
	}
	clk.Advance(3 * time.Second)
	if fl.Get() != "" {
		t.Errorf("Get() after expiry = %q", fl.Get())
	}
}
