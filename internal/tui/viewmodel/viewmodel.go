package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/deskline/internal/cli"
	"github.com/matheus3301/deskline/internal/clock"
	"github.com/matheus3301/deskline/internal/entity"
	"github.com/matheus3301/deskline/internal/local"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/msgsync"
	"github.com/matheus3301/deskline/internal/realtime"
	"github.com/matheus3301/deskline/internal/typing"
	"go.uber.org/zap"
)

// ErrAgentOnly is returned when a customer attempts an agent action.
var ErrAgentOnly = errors.New("only agents can do that")

// Backend is the data service as the TUI uses it. *remote.Client satisfies it.
type Backend interface {
	msgsync.Source
	entity.Writer
	realtime.Subscriber
	realtime.Broadcaster
}

// Options configure a ViewModel.
type Options struct {
	Identity local.Identity
	// Drafts persists unsent composer text per conversation. Optional.
	Drafts *local.Persistent
	// Session holds the working organization and open conversation for the
	// life of the process. Optional.
	Session     *local.Session
	CustomerTTL time.Duration
	Typing      typing.Options
	Clock       clock.Clock
	Logger      *zap.Logger
}

// KeyActiveConversation is the session key of the open conversation.
const KeyActiveConversation = "active_conversation"

// ConversationItem is a row of the conversation list.
type ConversationItem struct {
	model.Conversation
	CustomerName string
}

// ViewModel holds the TUI state: the conversation list, the open timeline
// and typing presence. Refresh is signalled on RefreshCh.
type ViewModel struct {
	backend Backend
	self    typing.Actor
	sender  msgsync.Sender
	orgID   string
	drafts  *local.Persistent
	state   *local.Session
	typing  typing.Options
	logger  *zap.Logger

	loader   *entity.Loader
	convs    *entity.Accessor[model.Conversation]
	timeline *msgsync.Timeline
	Flash    *Flash

	mu        sync.Mutex
	ctx       context.Context
	items     []ConversationItem
	activeID  string
	openGen   uint64
	session   *typing.Session
	convUnsub realtime.Unsubscribe

	refreshCh  chan struct{}
	reloadCh   chan struct{}
	sessionCh  chan struct{}
	cancel     context.CancelFunc
	closedOnce sync.Once
}

// NewViewModel creates a view model for the signed-in identity. A nil
// backend yields empty views.
func NewViewModel(b Backend, opts Options) (*ViewModel, error) {
	self, sender, err := cli.Actor(opts.Identity)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Typing.Clock == nil {
		opts.Typing.Clock = opts.Clock
	}
	if opts.Typing.Logger == nil {
		opts.Typing.Logger = opts.Logger
	}

	var (
		src  entity.Source
		msrc msgsync.Source
		subs realtime.Subscriber
	)
	if b != nil {
		src, msrc, subs = b, b, b
	}
	orgID := opts.Identity.OrgID
	if opts.Session != nil && opts.Session.ActiveOrg() != "" {
		orgID = opts.Session.ActiveOrg()
	}
	loader := entity.NewLoader(src, opts.Clock, opts.Logger, entity.WithCustomerTTL(opts.CustomerTTL))

	return &ViewModel{
		backend:   b,
		self:      self,
		sender:    sender,
		orgID:     orgID,
		drafts:    opts.Drafts,
		state:     opts.Session,
		typing:    opts.Typing,
		logger:    opts.Logger,
		loader:    loader,
		convs:     loader.Conversations(orgID),
		timeline:  msgsync.New(msrc, subs, opts.Logger),
		Flash:     NewFlash(opts.Clock),
		ctx:       context.Background(),
		refreshCh: make(chan struct{}, 1),
		reloadCh:  make(chan struct{}, 1),
		sessionCh: make(chan struct{}, 1),
		cancel:    func() {},
	}, nil
}

// RefreshCh signals that some view state changed.
func (vm *ViewModel) RefreshCh() <-chan struct{} { return vm.refreshCh }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Start loads the conversation list, subscribes to conversation changes and
// forwards timeline and typing changes to RefreshCh until ctx is done or
// Close is called.
func (vm *ViewModel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	vm.mu.Lock()
	vm.ctx = ctx
	vm.cancel = cancel
	vm.mu.Unlock()

	if vm.backend != nil {
		unsub, err := vm.backend.Subscribe(ctx, model.Conversations, realtime.Filter{OrgID: vm.orgID}, func(model.Change) {
			signal(vm.reloadCh)
		})
		if err != nil {
			vm.logger.Warn("conversation updates unavailable", zap.Error(err))
		} else {
			vm.mu.Lock()
			vm.convUnsub = unsub
			vm.mu.Unlock()
		}
	}

	go vm.run(ctx)
	return vm.LoadConversations(ctx)
}

func (vm *ViewModel) run(ctx context.Context) {
	for {
		var trackerCh <-chan struct{}
		vm.mu.Lock()
		if vm.session != nil {
			trackerCh = vm.session.Tracker.Changes()
		}
		vm.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-vm.timeline.Changes():
			signal(vm.refreshCh)
		case <-trackerCh:
			signal(vm.refreshCh)
		case <-vm.sessionCh:
		case <-vm.reloadCh:
			if err := vm.LoadConversations(ctx); err != nil {
				vm.logger.Warn("reload conversations", zap.Error(err))
			}
		}
	}
}

// LoadConversations refetches the conversation list and resolves customer
// names through the customer cache.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	st := vm.convs.Load(ctx)

	items := make([]ConversationItem, 0, len(st.Data))
	for _, c := range st.Data {
		if vm.self.Kind == typing.Customer && c.CustomerID != vm.self.ID {
			continue
		}
		item := ConversationItem{Conversation: c, CustomerName: c.CustomerID}
		if cust, err := vm.loader.Customer(ctx, vm.orgID, c.CustomerID); err == nil && cust.Name != "" {
			item.CustomerName = cust.Name
		}
		items = append(items, item)
	}

	vm.mu.Lock()
	vm.items = items
	vm.mu.Unlock()
	signal(vm.refreshCh)
	return st.Err
}

// Conversations returns the visible conversations, most recent activity first.
func (vm *ViewModel) Conversations() []ConversationItem {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return slices.Clone(vm.items)
}

// Open makes conversationID the active conversation: the timeline follows
// it and typing presence is joined. It returns the saved draft. When opens
// overlap, the last one wins and earlier joins are left.
func (vm *ViewModel) Open(conversationID string) (string, error) {
	vm.mu.Lock()
	ctx := vm.ctx
	old := vm.session
	vm.session = nil
	vm.activeID = conversationID
	vm.openGen++
	gen := vm.openGen
	vm.mu.Unlock()
	vm.remember(conversationID)
	if old != nil {
		old.Leave()
	}
	signal(vm.sessionCh)

	err := vm.timeline.Activate(ctx, vm.orgID, conversationID)

	if vm.backend != nil {
		sess, jerr := typing.Join(ctx, vm.backend, conversationID, vm.self, vm.typing)
		if jerr != nil {
			vm.logger.Warn("typing presence unavailable", zap.String("conversation_id", conversationID), zap.Error(jerr))
		} else {
			vm.adopt(gen, sess)
		}
	}

	return vm.draft(conversationID), err
}

// adopt installs sess if no later Open or CloseConversation happened, and
// leaves whichever session loses.
func (vm *ViewModel) adopt(gen uint64, sess *typing.Session) {
	vm.mu.Lock()
	if vm.openGen != gen {
		vm.mu.Unlock()
		sess.Leave()
		return
	}
	prev := vm.session
	vm.session = sess
	vm.mu.Unlock()
	if prev != nil {
		prev.Leave()
	}
	signal(vm.sessionCh)
}

// CloseConversation leaves the active conversation.
func (vm *ViewModel) CloseConversation() {
	vm.closeConversation()
}

func (vm *ViewModel) closeConversation() *typing.Session {
	vm.mu.Lock()
	sess := vm.session
	vm.session = nil
	vm.activeID = ""
	vm.openGen++
	vm.mu.Unlock()
	vm.remember("")
	if sess != nil {
		sess.Leave()
	}
	vm.timeline.Deactivate()
	signal(vm.sessionCh)
	return sess
}

func (vm *ViewModel) remember(conversationID string) {
	if vm.state != nil {
		vm.state.Set(KeyActiveConversation, conversationID)
	}
}

// ActiveID returns the open conversation, or "".
func (vm *ViewModel) ActiveID() string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.activeID
}

// Timeline returns the open conversation's messages.
func (vm *ViewModel) Timeline() msgsync.State {
	return vm.timeline.Snapshot()
}

// Self returns the signed-in actor.
func (vm *ViewModel) Self() typing.Actor { return vm.self }

func (vm *ViewModel) draft(conversationID string) string {
	if vm.drafts == nil {
		return ""
	}
	return vm.drafts.Draft(conversationID)
}

// InputChanged reports composer edits: it drives the typing indicator and
// saves the draft.
func (vm *ViewModel) InputChanged(text string) {
	vm.mu.Lock()
	sess, active := vm.session, vm.activeID
	vm.mu.Unlock()
	if active == "" {
		return
	}
	if sess != nil {
		sess.Indicator.InputChanged(text)
	}
	if vm.drafts != nil {
		if err := vm.drafts.SetDraft(active, text); err != nil {
			vm.logger.Warn("save draft", zap.Error(err))
		}
	}
}

// Send posts text to the open conversation. Blank text is ignored.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	vm.mu.Lock()
	sess, active := vm.session, vm.activeID
	vm.mu.Unlock()

	if _, err := vm.timeline.Send(ctx, text, vm.sender); err != nil {
		return err
	}
	if sess != nil {
		sess.Indicator.Sent()
	}
	if vm.drafts != nil {
		if err := vm.drafts.SetDraft(active, ""); err != nil {
			vm.logger.Warn("clear draft", zap.Error(err))
		}
	}
	return nil
}

// SetStatus changes the open conversation's status. Agents only.
func (vm *ViewModel) SetStatus(ctx context.Context, status model.ConversationStatus) error {
	if vm.self.Kind != typing.Agent {
		return ErrAgentOnly
	}
	if vm.backend == nil {
		return errors.New("data service not configured")
	}
	active := vm.ActiveID()
	if active == "" {
		return msgsync.ErrInactive
	}
	if _, err := entity.SetConversationStatus(ctx, vm.backend, vm.orgID, active, status); err != nil {
		return err
	}
	return vm.LoadConversations(ctx)
}

// TypingPeers returns who else is typing in the open conversation.
func (vm *ViewModel) TypingPeers() []typing.Actor {
	vm.mu.Lock()
	sess := vm.session
	vm.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Tracker.Peers()
}

// TypingLabel describes TypingPeers for the status bar.
func (vm *ViewModel) TypingLabel() string {
	peers := vm.TypingPeers()
	switch len(peers) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", peers[0].Kind)
	}
	return fmt.Sprintf("%d people are typing...", len(peers))
}

// leaveWait bounds how long Close waits for the final typing signal.
const leaveWait = 2 * time.Second

// Close leaves the conversation and stops background work. It waits briefly
// for the final typing signal so peers do not see a stuck indicator.
func (vm *ViewModel) Close() {
	vm.closedOnce.Do(func() {
		sess := vm.closeConversation()
		vm.mu.Lock()
		unsub, cancel := vm.convUnsub, vm.cancel
		vm.convUnsub = nil
		vm.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		cancel()
		if sess != nil {
			select {
			case <-sess.Done():
			case <-time.After(leaveWait):
				vm.logger.Warn("typing signal still pending at close")
			}
		}
	})
}
