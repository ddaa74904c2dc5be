package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alexgthegreat/StudySync-22/internal/config"
	"github.com/alexgthegreat/StudySync-22/internal/core/contracts"
	"github.com/alexgthegreat/StudySync-22/internal/core/domain"
	"github.com/alexgthegreat/StudySync-22/pkg/logging"
)

var tracer = otel.Tracer("chat-service")

// ChatService is the group broadcast router: it owns group
// subscriptions, persists inbound messages, and fans them out to every
// live subscriber found in the connection registry.
type ChatService struct {
	log      *slog.Logger
	registry contracts.ConnectionRegistry
	groups   contracts.GroupIndex
	members  domain.MembershipRepository
	messages domain.MessageRepository
	history  contracts.HistoryCache
	tx       TxRunner

	persistTimeout time.Duration
	historyLimit   int

	// sendMu serializes the fan-out phase so broadcast order matches
	// persistence completion order within a group.
	sendMu sync.Mutex
}

func NewChatService(
	log *slog.Logger,
	registry contracts.ConnectionRegistry,
	groups contracts.GroupIndex,
	members domain.MembershipRepository,
	messages domain.MessageRepository,
	history contracts.HistoryCache,
	tx TxRunner,
	cfg *config.ChatConfig,
) *ChatService {
	return &ChatService{
		log:            log,
		registry:       registry,
		groups:         groups,
		members:        members,
		messages:       messages,
		history:        history,
		tx:             tx,
		persistTimeout: cfg.PersistTimeout,
		historyLimit:   cfg.HistoryLimit,
	}
}

// HandleEnvelope routes one raw inbound envelope from a connection.
// Malformed envelopes are dropped with an error envelope back to the
// sender; the connection and registry state are left untouched.
func (s *ChatService) HandleEnvelope(ctx context.Context, c contracts.Client, raw []byte) error {
	switch gjson.GetBytes(raw, "type").String() {
	case domain.TypeJoin:
		var env domain.JoinEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.reject(ctx, c, "bad_envelope", "malformed join envelope")
			s.log.WarnContext(ctx, "chat - handle envelope - malformed join", logging.User(c.UserID()), logging.Err(err))
			return err
		}
		return s.Join(ctx, c, env)
	case domain.TypeMessage:
		var env domain.MessageEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.reject(ctx, c, "bad_envelope", "malformed message envelope")
			s.log.WarnContext(ctx, "chat - handle envelope - malformed message", logging.User(c.UserID()), logging.Err(err))
			return err
		}
		return s.Dispatch(ctx, c, env)
	default:
		s.reject(ctx, c, "unknown_type", "unknown envelope type")
		s.log.WarnContext(ctx, "chat - handle envelope - unknown type", logging.User(c.UserID()))
		return domain.ErrUnknownEnvelope
	}
}

// Join subscribes the connection's user to a group after verifying
// durable membership, registers the live connection, and replays
// recent history.
func (s *ChatService) Join(ctx context.Context, c contracts.Client, env domain.JoinEnvelope) error {
	ctx, span := tracer.Start(ctx, "ChatService.Join", trace.WithAttributes(
		attribute.Int64("chat.group_id", env.GroupID),
		attribute.Int64("chat.user_id", c.UserID()),
	))
	defer span.End()
	if env.UserID != c.UserID() {
		s.reject(ctx, c, "identity_mismatch", "envelope user id does not match this connection")
		span.RecordError(domain.ErrIdentityMismatch)
		return domain.ErrIdentityMismatch
	}
	if env.GroupID <= 0 {
		s.reject(ctx, c, "bad_group", "invalid group id")
		span.RecordError(domain.ErrInvalidGroupID)
		return domain.ErrInvalidGroupID
	}
	ok, err := s.members.IsMember(ctx, env.GroupID, c.UserID())
	if err != nil {
		s.reject(ctx, c, "membership_unavailable", "could not verify group membership")
		span.RecordError(err)
		span.SetStatus(codes.Error, "membership check failed")
		s.log.ErrorContext(ctx, "chat - join - membership check failed", logging.Group(env.GroupID), logging.User(c.UserID()), logging.Err(err))
		return err
	}
	if !ok {
		s.reject(ctx, c, "not_member", "user is not a member of this group")
		span.RecordError(domain.ErrNotGroupMember)
		return domain.ErrNotGroupMember
	}
	if replaced := s.registry.Register(c); replaced != nil {
		// Last write wins; close the superseded handle so it does not
		// leak its descriptor.
		replaced.Close()
		s.log.InfoContext(ctx, "chat - join - replaced prior connection", logging.User(c.UserID()))
	}
	s.groups.Join(env.GroupID, c.UserID())
	s.replayHistory(ctx, c, env.GroupID)
	span.SetStatus(codes.Ok, "joined")
	s.log.InfoContext(ctx, "chat - join - subscribed", logging.Group(env.GroupID), logging.User(c.UserID()))
	return nil
}

// Dispatch persists the message and, only on success, fans it out to
// every live subscriber of the group, including the sender. Delivery
// is best-effort per recipient; a failing channel is evicted and the
// remaining recipients still receive the message.
func (s *ChatService) Dispatch(ctx context.Context, c contracts.Client, env domain.MessageEnvelope) error {
	ctx, span := tracer.Start(ctx, "ChatService.Dispatch", trace.WithAttributes(
		attribute.Int64("chat.group_id", env.GroupID),
		attribute.Int64("chat.user_id", c.UserID()),
		attribute.Int("chat.payload_size", len(env.Content)),
	))
	defer span.End()
	if env.UserID != c.UserID() {
		s.reject(ctx, c, "identity_mismatch", "envelope user id does not match this connection")
		span.RecordError(domain.ErrIdentityMismatch)
		return domain.ErrIdentityMismatch
	}
	if env.Content == "" {
		s.reject(ctx, c, "empty_content", "message content must not be empty")
		span.RecordError(domain.ErrEmptyContent)
		return domain.ErrEmptyContent
	}
	if !s.groups.Contains(env.GroupID, c.UserID()) {
		s.reject(ctx, c, "not_subscribed", "join the group before sending messages")
		span.RecordError(domain.ErrNotSubscribed)
		return domain.ErrNotSubscribed
	}

	persistCtx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	var msg *domain.Message
	err := s.tx.WithTx(persistCtx, func(txCtx context.Context) error {
		var txErr error
		msg, txErr = s.messages.Record(txCtx, env.GroupID, c.UserID(), env.Content)
		return txErr
	})
	if err != nil {
		// The message is dropped: nothing is broadcast and only the
		// sender learns about the failure.
		s.reject(ctx, c, "persist_failed", "message could not be stored")
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		s.log.ErrorContext(ctx, "chat - dispatch - persist failed", logging.Group(env.GroupID), logging.User(c.UserID()), logging.Err(err))
		return err
	}

	delivered := s.broadcast(ctx, msg)
	span.SetAttributes(attribute.Int("chat.delivered", delivered))

	if err := s.history.Append(ctx, msg); err != nil {
		s.log.WarnContext(ctx, "chat - dispatch - history append failed", logging.Group(msg.GroupID), logging.Err(err))
	}
	span.SetStatus(codes.Ok, "dispatched")
	s.log.InfoContext(ctx, "chat - dispatch - broadcast complete",
		logging.Group(msg.GroupID), logging.User(msg.UserID), logging.MessageID(msg.ID), slog.Int("delivered", delivered))
	return nil
}

// Disconnect tears down a connection's registry state. It runs before
// the connection task terminates so a dead connection is never left
// addressable. Safe to call for identities that were never registered.
func (s *ChatService) Disconnect(c contracts.Client) {
	s.registry.Release(c)
	s.groups.Leave(c.UserID())
	s.log.Info("chat - disconnect - cleaned up", logging.User(c.UserID()))
}

// History returns the most recent messages for a group, serving from
// the cache when it is warm and falling back to durable storage.
func (s *ChatService) History(ctx context.Context, groupID int64, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	if msgs, err := s.history.Recent(ctx, groupID, limit); err == nil && len(msgs) > 0 {
		return msgs, nil
	}
	return s.messages.GroupMessages(ctx, groupID, limit)
}

// MemberOf reports whether the user durably belongs to the group.
func (s *ChatService) MemberOf(ctx context.Context, groupID, userID int64) (bool, error) {
	return s.members.IsMember(ctx, groupID, userID)
}

func (s *ChatService) broadcast(ctx context.Context, msg *domain.Message) int {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	data, err := json.Marshal(domain.Broadcast(msg))
	if err != nil {
		s.log.ErrorContext(ctx, "chat - broadcast - marshal failed", logging.MessageID(msg.ID), logging.Err(err))
		return 0
	}
	delivered := 0
	for _, userID := range s.groups.Snapshot(msg.GroupID) {
		cl, ok := s.registry.Lookup(userID)
		if !ok {
			// Subscribed but offline; skipped silently.
			continue
		}
		if err := cl.Send(ctx, data); err != nil {
			s.evict(cl)
			s.log.WarnContext(ctx, "chat - broadcast - recipient write failed, evicted",
				logging.Group(msg.GroupID), logging.User(userID), logging.Err(err))
			continue
		}
		delivered++
	}
	return delivered
}

// evict performs opportunistic cleanup for a connection whose channel
// failed mid-broadcast.
func (s *ChatService) evict(c contracts.Client) {
	s.registry.Release(c)
	s.groups.Leave(c.UserID())
	c.Close()
}

func (s *ChatService) replayHistory(ctx context.Context, c contracts.Client, groupID int64) {
	msgs, err := s.history.Recent(ctx, groupID, s.historyLimit)
	if err != nil {
		s.log.WarnContext(ctx, "chat - join - history replay failed", logging.Group(groupID), logging.Err(err))
		return
	}
	if len(msgs) == 0 {
		return
	}
	env := domain.HistoryEnvelope{Type: domain.TypeHistory, GroupID: groupID, Messages: make([]domain.MessageEnvelope, 0, len(msgs))}
	for i := range msgs {
		env.Messages = append(env.Messages, domain.Broadcast(&msgs[i]))
	}
	data, _ := json.Marshal(env)
	if err := c.Send(ctx, data); err != nil {
		s.log.WarnContext(ctx, "chat - join - history send failed", logging.Group(groupID), logging.User(c.UserID()), logging.Err(err))
	}
}

func (s *ChatService) reject(ctx context.Context, c contracts.Client, code, message string) {
	data, _ := json.Marshal(domain.ErrorEnvelope{Type: domain.TypeError, Code: code, Message: message})
	_ = c.Send(ctx, data)
}
