package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alexgthegreat/StudySync-22/internal/app/registry"
	"github.com/alexgthegreat/StudySync-22/internal/config"
	"github.com/alexgthegreat/StudySync-22/internal/core/domain"
	"github.com/alexgthegreat/StudySync-22/internal/core/services"
)

// --- Fakes ---

type fakeClient struct {
	userID int64
	mu     sync.Mutex
	sent   [][]byte
	fail   bool
	closed bool
}

func (c *fakeClient) UserID() int64 { return c.userID }

func (c *fakeClient) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// messagesOfType decodes everything the client received and keeps the
// envelopes of one type.
func (c *fakeClient) messagesOfType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, raw := range c.sent {
		var env map[string]any
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("client %d received invalid JSON: %v", c.userID, err)
		}
		if env["type"] == typ {
			out = append(out, env)
		}
	}
	return out
}

type fakeMessages struct {
	mu       sync.Mutex
	nextID   int64
	failWith error
	recorded []domain.Message
}

func (m *fakeMessages) Record(ctx context.Context, groupID, userID int64, content string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.nextID++
	msg := domain.Message{
		ID:      m.nextID,
		GroupID: groupID,
		UserID:  userID,
		Content: content,
		SentAt:  time.Now(),
	}
	m.recorded = append(m.recorded, msg)
	return &msg, nil
}

func (m *fakeMessages) GroupMessages(ctx context.Context, groupID int64, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.recorded {
		if msg.GroupID == groupID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *fakeMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recorded)
}

type fakeMembers struct {
	allow map[[2]int64]bool
	err   error
}

func (m *fakeMembers) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.allow[[2]int64{groupID, userID}], nil
}

type fakeHistory struct {
	mu      sync.Mutex
	byGroup map[int64][]domain.Message
}

func (h *fakeHistory) Append(ctx context.Context, msg *domain.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byGroup == nil {
		h.byGroup = make(map[int64][]domain.Message)
	}
	h.byGroup[msg.GroupID] = append(h.byGroup[msg.GroupID], *msg)
	return nil
}

func (h *fakeHistory) Recent(ctx context.Context, groupID int64, limit int) ([]domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.byGroup[groupID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// --- Harness ---

type chatFixture struct {
	svc      *services.ChatService
	registry *registry.Registry
	groups   *registry.Groups
	messages *fakeMessages
	members  *fakeMembers
	history  *fakeHistory
}

func newFixture(members *fakeMembers) *chatFixture {
	f := &chatFixture{
		registry: registry.NewRegistry(),
		groups:   registry.NewGroups(),
		messages: &fakeMessages{},
		members:  members,
		history:  &fakeHistory{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = services.NewChatService(
		log, f.registry, f.groups, f.members, f.messages, f.history, passthroughTx{},
		&config.ChatConfig{PersistTimeout: time.Second, HistoryLimit: 50},
	)
	return f
}

func allowAll(pairs ...[2]int64) *fakeMembers {
	m := &fakeMembers{allow: make(map[[2]int64]bool)}
	for _, p := range pairs {
		m.allow[p] = true
	}
	return m
}

func joinEnvelope(userID, groupID int64) []byte {
	data, _ := json.Marshal(domain.JoinEnvelope{Type: domain.TypeJoin, UserID: userID, GroupID: groupID})
	return data
}

func messageEnvelope(userID, groupID int64, content string) []byte {
	data, _ := json.Marshal(domain.MessageEnvelope{Type: domain.TypeMessage, UserID: userID, GroupID: groupID, Content: content})
	return data
}

// --- Tests ---

func TestDispatchReachesAllSubscribersIncludingSender(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}, [2]int64{42, 2}))
	ctx := context.Background()
	c1 := &fakeClient{userID: 1}
	c2 := &fakeClient{userID: 2}

	if err := f.svc.HandleEnvelope(ctx, c1, joinEnvelope(1, 42)); err != nil {
		t.Fatalf("join user 1: %v", err)
	}
	if err := f.svc.HandleEnvelope(ctx, c2, joinEnvelope(2, 42)); err != nil {
		t.Fatalf("join user 2: %v", err)
	}
	if err := f.svc.HandleEnvelope(ctx, c1, messageEnvelope(1, 42, "hi")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	for _, c := range []*fakeClient{c1, c2} {
		got := c.messagesOfType(t, domain.TypeMessage)
		if len(got) != 1 {
			t.Fatalf("client %d received %d message envelopes, want 1", c.userID, len(got))
		}
		env := got[0]
		if env["content"] != "hi" {
			t.Errorf("client %d content = %v, want hi", c.userID, env["content"])
		}
		if id, _ := env["id"].(float64); id <= 0 {
			t.Errorf("client %d message id = %v, want server-assigned id", c.userID, env["id"])
		}
		if _, ok := env["sentAt"]; !ok {
			t.Errorf("client %d envelope missing sentAt", c.userID)
		}
	}
}

func TestDispatchSkipsUsersOutsideTheGroup(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}, [2]int64{7, 3}))
	ctx := context.Background()
	c1 := &fakeClient{userID: 1}
	c3 := &fakeClient{userID: 3}

	f.svc.HandleEnvelope(ctx, c1, joinEnvelope(1, 42))
	// User 3 is online, but subscribed elsewhere.
	f.svc.HandleEnvelope(ctx, c3, joinEnvelope(3, 7))
	if err := f.svc.HandleEnvelope(ctx, c1, messageEnvelope(1, 42, "hi")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := c3.messagesOfType(t, domain.TypeMessage); len(got) != 0 {
		t.Errorf("user 3 received %d messages for a group it never joined", len(got))
	}
}

func TestDisconnectedSubscriberReceivesNothing(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}, [2]int64{42, 2}))
	ctx := context.Background()
	c1 := &fakeClient{userID: 1}
	c2 := &fakeClient{userID: 2}

	f.svc.HandleEnvelope(ctx, c1, joinEnvelope(1, 42))
	f.svc.HandleEnvelope(ctx, c2, joinEnvelope(2, 42))
	f.svc.Disconnect(c2)

	if err := f.svc.HandleEnvelope(ctx, c1, messageEnvelope(1, 42, "anyone here?")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := c1.messagesOfType(t, domain.TypeMessage); len(got) != 1 {
		t.Errorf("sender received %d messages, want 1", len(got))
	}
	if got := c2.messagesOfType(t, domain.TypeMessage); len(got) != 0 {
		t.Errorf("disconnected user received %d messages, want 0", len(got))
	}
}

func TestPersistenceFailureGatesBroadcast(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}, [2]int64{42, 2}))
	ctx := context.Background()
	c1 := &fakeClient{userID: 1}
	c2 := &fakeClient{userID: 2}

	f.svc.HandleEnvelope(ctx, c1, joinEnvelope(1, 42))
	f.svc.HandleEnvelope(ctx, c2, joinEnvelope(2, 42))
	f.messages.failWith = errors.New("connection refused")

	if err := f.svc.HandleEnvelope(ctx, c1, messageEnvelope(1, 42, "hi")); err == nil {
		t.Fatal("dispatch succeeded despite persistence failure")
	}
	if got := c2.messagesOfType(t, domain.TypeMessage); len(got) != 0 {
		t.Errorf("other member saw %d messages that failed persistence", len(got))
	}
	errs := c1.messagesOfType(t, domain.TypeError)
	if len(errs) != 1 || errs[0]["code"] != "persist_failed" {
		t.Errorf("sender error envelopes = %v, want one persist_failed", errs)
	}
	// The failure must not tear down anyone's subscription.
	if _, ok := f.registry.Lookup(1); !ok {
		t.Error("sender was unregistered by a persistence failure")
	}
	if !f.groups.Contains(42, 2) {
		t.Error("subscriber was dropped by a persistence failure")
	}
}

func TestFailingRecipientIsIsolatedAndEvicted(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}, [2]int64{42, 2}, [2]int64{42, 3}))
	ctx := context.Background()
	c1 := &fakeClient{userID: 1}
	c2 := &fakeClient{userID: 2}
	c3 := &fakeClient{userID: 3}

	f.svc.HandleEnvelope(ctx, c1, joinEnvelope(1, 42))
	f.svc.HandleEnvelope(ctx, c2, joinEnvelope(2, 42))
	f.svc.HandleEnvelope(ctx, c3, joinEnvelope(3, 42))
	c2.fail = true

	if err := f.svc.HandleEnvelope(ctx, c1, messageEnvelope(1, 42, "hi")); err != nil {
		t.Fatalf("dispatch failed because of one bad recipient: %v", err)
	}
	for _, c := range []*fakeClient{c1, c3} {
		if got := c.messagesOfType(t, domain.TypeMessage); len(got) != 1 {
			t.Errorf("client %d received %d messages, want 1", c.userID, len(got))
		}
	}
	// The dead channel triggers opportunistic cleanup.
	if _, ok := f.registry.Lookup(2); ok {
		t.Error("failing recipient still registered")
	}
	if f.groups.Contains(42, 2) {
		t.Error("failing recipient still subscribed")
	}
	if !c2.isClosed() {
		t.Error("failing recipient's connection was not closed")
	}
}

func TestJoinRejectsNonMember(t *testing.T) {
	f := newFixture(allowAll())
	ctx := context.Background()
	c := &fakeClient{userID: 5}

	err := f.svc.HandleEnvelope(ctx, c, joinEnvelope(5, 42))
	if !errors.Is(err, domain.ErrNotGroupMember) {
		t.Fatalf("join error = %v, want ErrNotGroupMember", err)
	}
	if _, ok := f.registry.Lookup(5); ok {
		t.Error("rejected user ended up in the registry")
	}
	errs := c.messagesOfType(t, domain.TypeError)
	if len(errs) != 1 || errs[0]["code"] != "not_member" {
		t.Errorf("error envelopes = %v, want one not_member", errs)
	}
}

func TestDispatchRequiresSubscription(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}))
	ctx := context.Background()
	c := &fakeClient{userID: 1}

	// No join issued: bare message envelopes must not reach storage or
	// any group.
	err := f.svc.HandleEnvelope(ctx, c, messageEnvelope(1, 42, "drive-by"))
	if !errors.Is(err, domain.ErrNotSubscribed) {
		t.Fatalf("dispatch error = %v, want ErrNotSubscribed", err)
	}
	if f.messages.count() != 0 {
		t.Error("unsubscribed dispatch reached the message store")
	}
}

func TestMalformedEnvelopeLeavesStateUntouched(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}))
	ctx := context.Background()
	c := &fakeClient{userID: 1}
	f.svc.HandleEnvelope(ctx, c, joinEnvelope(1, 42))

	if err := f.svc.HandleEnvelope(ctx, c, []byte(`{"type":"message",`)); err == nil {
		t.Fatal("malformed envelope did not error")
	}
	if err := f.svc.HandleEnvelope(ctx, c, []byte(`{"type":"presence"}`)); !errors.Is(err, domain.ErrUnknownEnvelope) {
		t.Fatalf("unknown type error = %v, want ErrUnknownEnvelope", err)
	}
	if _, ok := f.registry.Lookup(1); !ok {
		t.Error("malformed envelope unregistered the connection")
	}
	if !f.groups.Contains(42, 1) {
		t.Error("malformed envelope dropped the subscription")
	}
}

func TestEnvelopeIdentityMustMatchConnection(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}, [2]int64{42, 2}))
	ctx := context.Background()
	c1 := &fakeClient{userID: 1}
	f.svc.HandleEnvelope(ctx, c1, joinEnvelope(1, 42))

	err := f.svc.HandleEnvelope(ctx, c1, messageEnvelope(2, 42, "spoofed"))
	if !errors.Is(err, domain.ErrIdentityMismatch) {
		t.Fatalf("dispatch error = %v, want ErrIdentityMismatch", err)
	}
	if f.messages.count() != 0 {
		t.Error("spoofed envelope reached the message store")
	}
}

func TestRejoinReplacesPriorConnection(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}))
	ctx := context.Background()
	old := &fakeClient{userID: 1}
	nw := &fakeClient{userID: 1}

	f.svc.HandleEnvelope(ctx, old, joinEnvelope(1, 42))
	f.svc.HandleEnvelope(ctx, nw, joinEnvelope(1, 42))

	if !old.isClosed() {
		t.Error("replaced connection was not closed")
	}
	if err := f.svc.HandleEnvelope(ctx, nw, messageEnvelope(1, 42, "back")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := nw.messagesOfType(t, domain.TypeMessage); len(got) != 1 {
		t.Errorf("new connection received %d messages, want 1", len(got))
	}
	if got := old.messagesOfType(t, domain.TypeMessage); len(got) != 0 {
		t.Errorf("stale connection received %d messages, want 0", len(got))
	}
}

func TestJoinReplaysRecentHistory(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}))
	ctx := context.Background()
	f.history.Append(ctx, &domain.Message{ID: 7, GroupID: 42, UserID: 2, Content: "earlier", SentAt: time.Now()})

	c := &fakeClient{userID: 1}
	if err := f.svc.HandleEnvelope(ctx, c, joinEnvelope(1, 42)); err != nil {
		t.Fatalf("join: %v", err)
	}
	hist := c.messagesOfType(t, domain.TypeHistory)
	if len(hist) != 1 {
		t.Fatalf("received %d history envelopes, want 1", len(hist))
	}
	msgs, _ := hist[0]["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("history carried %d messages, want 1", len(msgs))
	}
}

func TestDispatchPopulatesHistoryCache(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}))
	ctx := context.Background()
	c := &fakeClient{userID: 1}
	f.svc.HandleEnvelope(ctx, c, joinEnvelope(1, 42))
	f.svc.HandleEnvelope(ctx, c, messageEnvelope(1, 42, "hi"))

	cached, err := f.history.Recent(ctx, 42, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(cached) != 1 || cached[0].Content != "hi" {
		t.Errorf("cache = %v, want the dispatched message", cached)
	}
}

func TestHistoryFallsBackToStore(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}))
	ctx := context.Background()
	c := &fakeClient{userID: 1}
	f.svc.HandleEnvelope(ctx, c, joinEnvelope(1, 42))
	f.svc.HandleEnvelope(ctx, c, messageEnvelope(1, 42, "hi"))
	// Cold cache: the durable store must serve the read.
	f.history.byGroup = nil

	msgs, err := f.svc.History(ctx, 42, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Errorf("History = %v, want the stored message", msgs)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(allowAll([2]int64{42, 1}))
	c := &fakeClient{userID: 1}
	// Never joined: cleanup of an unknown identity must be a no-op.
	f.svc.Disconnect(c)
	f.svc.Disconnect(c)
	if f.registry.Len() != 0 || f.groups.Len() != 0 {
		t.Error("Disconnect of an unknown identity mutated state")
	}
}
