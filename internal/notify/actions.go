package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
)

// ReplySender delivers an outgoing message.
type ReplySender interface {
	Send(ctx context.Context, roomID, senderID, text string) (model.Message, error)
}

// ReadMarker marks a room as read for readerID.
type ReadMarker interface {
	MarkRoomRead(ctx context.Context, roomID, readerID string) error
}

// Push is an inbound notification delivered by the push transport.
type Push struct {
	RoomID      string
	SenderID    string
	SenderName  string
	Text        string
	TimestampMs int64
}

// Reply is the inline "reply with text" action.
type Reply struct {
	RoomID      string
	SenderID    string
	RecipientID string
	Text        string
}

// MarkRead is the "mark as read" action.
type MarkRead struct {
	RoomID   string
	SenderID string
}

// Actions applies notification actions to the buffer and forwards them to
// the network. Remote failures are logged, never returned: the buffer is
// already updated and the message store converges once the sync listener
// sees the acknowledged write.
type Actions struct {
	buf    *Buffer
	sender ReplySender
	local  ReadMarker
	remote ReadMarker
	logger *zap.Logger
	now    func() time.Time
}

// NewActions wires the action handlers. local and remote may be nil.
func NewActions(buf *Buffer, sender ReplySender, local, remote ReadMarker, logger *zap.Logger) *Actions {
	return &Actions{
		buf:    buf,
		sender: sender,
		local:  local,
		remote: remote,
		logger: logger,
		now:    time.Now,
	}
}

// Buffer returns the history buffer the actions write to.
func (a *Actions) Buffer() *Buffer { return a.buf }

// Push records an inbound notification and returns the thread to render.
func (a *Actions) Push(p Push) []Entry {
	ts := p.TimestampMs
	if ts == 0 {
		ts = a.now().UnixMilli()
	}
	a.buf.Append(p.RoomID, Entry{Text: p.Text, TimestampMs: ts})
	return a.buf.History(p.RoomID)
}

// Reply appends the reply to the thread, then attempts to send it. The
// returned thread includes the reply even when sending fails.
func (a *Actions) Reply(ctx context.Context, r Reply) ([]Entry, error) {
	if r.RoomID == "" || r.SenderID == "" {
		return nil, errors.New("reply: room and sender are required")
	}
	a.buf.Append(r.RoomID, Entry{Text: r.Text, TimestampMs: a.now().UnixMilli(), AuthorIsSelf: true})

	if a.sender != nil {
		if _, err := a.sender.Send(ctx, r.RoomID, r.SenderID, r.Text); err != nil {
			a.logger.Warn("reply not delivered",
				zap.String("room_id", r.RoomID),
				zap.String("recipient_id", r.RecipientID),
				zap.Error(err))
		}
	}
	return a.buf.History(r.RoomID), nil
}

// MarkRead clears the thread and marks the room read locally and remotely.
func (a *Actions) MarkRead(ctx context.Context, m MarkRead) error {
	if m.RoomID == "" {
		return errors.New("mark read: room is required")
	}
	a.buf.Clear(m.RoomID)

	if a.local != nil {
		if err := a.local.MarkRoomRead(ctx, m.RoomID, m.SenderID); err != nil {
			a.logger.Warn("local mark read failed", zap.String("room_id", m.RoomID), zap.Error(err))
		}
	}
	if a.remote != nil {
		if err := a.remote.MarkRoomRead(ctx, m.RoomID, m.SenderID); err != nil {
			a.logger.Warn("remote read acknowledgement failed", zap.String("room_id", m.RoomID), zap.Error(err))
		}
	}
	return nil
}
