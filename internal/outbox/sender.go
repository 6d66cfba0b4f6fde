// Package outbox sends messages optimistically: the message is stored
// locally first and marked delivered once the remote acknowledges it.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/bus"
	"github.com/master-rogerio/VCZapO-sub001/internal/model"
	"github.com/master-rogerio/VCZapO-sub001/internal/store"
)

// RemoteWriter writes a message document under the message's id. Ids are
// client-assigned, so the echo from the live feed upserts the same row.
type RemoteWriter interface {
	WriteMessage(ctx context.Context, msg model.Message) error
}

// Result is the payload of outbox.ack and outbox.failed events.
type Result struct {
	MessageID string
	RoomID    string
	Err       error
}

// Sender delivers outgoing text messages.
type Sender struct {
	store  *store.Store
	remote RemoteWriter
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
	names  func(userID string) string
}

// Option configures a Sender.
type Option func(*Sender)

// WithDisplayNames sets the lookup used to fill SenderName on optimistic
// messages. An empty result falls back to the sender id.
func WithDisplayNames(fn func(userID string) string) Option {
	return func(s *Sender) { s.names = fn }
}

// NewSender creates a new outbox sender.
func NewSender(st *store.Store, remote RemoteWriter, b *bus.Bus, logger *zap.Logger, opts ...Option) *Sender {
	s := &Sender{
		store:  st,
		remote: remote,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) displayName(userID string) string {
	if s.names != nil {
		if name := s.names(userID); name != "" {
			return name
		}
	}
	return userID
}

// Send stores the message with delivered=false, writes it remotely and, on
// acknowledgement, sets only its delivered flag. A remote failure
// leaves the optimistic row in place and is returned alongside the message.
func (s *Sender) Send(ctx context.Context, roomID, senderID, text string) (model.Message, error) {
	if roomID == "" || senderID == "" {
		return model.Message{}, errors.New("send: room and sender are required")
	}
	msg := model.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: s.displayName(senderID),
		Content:    text,
		CreatedAt:  model.TimestampFromTime(s.now()),
		Type:       model.TypeText,
		Read:       true,
		Reactions:  map[string]string{},
	}
	if err := s.store.UpsertOne(ctx, msg); err != nil {
		return model.Message{}, fmt.Errorf("store optimistic message: %w", err)
	}
	return s.deliver(ctx, msg)
}

// Resend retries delivery of a stored message that was never acknowledged.
func (s *Sender) Resend(ctx context.Context, id string) (model.Message, error) {
	msg, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Message{}, err
	}
	if msg == nil {
		return model.Message{}, store.ErrNotFound
	}
	if msg.Delivered {
		return *msg, nil
	}
	return s.deliver(ctx, *msg)
}

func (s *Sender) deliver(ctx context.Context, msg model.Message) (model.Message, error) {
	if err := s.remote.WriteMessage(ctx, msg); err != nil {
		s.logger.Warn("message not delivered",
			zap.String("message_id", msg.ID),
			zap.String("room_id", msg.RoomID),
			zap.Error(err))
		s.bus.Publish(bus.NewEvent(bus.KindOutboxFailed, Result{MessageID: msg.ID, RoomID: msg.RoomID, Err: err}))
		return msg, fmt.Errorf("deliver %s: %w", msg.ID, err)
	}

	// The live feed may already have stored the server's copy; keep its
	// createdAt and senderName.
	msg.Delivered = true
	if err := s.store.SetDelivered(ctx, msg.ID); err != nil {
		s.logger.Error("failed to mark delivered", zap.String("message_id", msg.ID), zap.Error(err))
	} else if stored, err := s.store.Get(ctx, msg.ID); err == nil && stored != nil {
		msg = *stored
	}
	s.logger.Info("message delivered", zap.String("message_id", msg.ID), zap.String("room_id", msg.RoomID))
	s.bus.Publish(bus.NewEvent(bus.KindOutboxAck, Result{MessageID: msg.ID, RoomID: msg.RoomID}))
	return msg, nil
}
