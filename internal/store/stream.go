package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/bus"
	"github.com/master-rogerio/VCZapO-sub001/internal/model"
)

// Stream delivers full, ordered snapshots of a room query: one on open and
// one after every committed write touching the room. A slow reader only
// ever sees the latest snapshot.
type Stream struct {
	updates <-chan []model.Message
	cancel  context.CancelFunc
	done    chan struct{}
}

// Updates returns the snapshot channel. It is closed when the stream stops.
func (st *Stream) Updates() <-chan []model.Message { return st.updates }

// Close stops delivery and waits for the stream goroutine to exit.
func (st *Stream) Close() {
	st.cancel()
	<-st.done
}

// StreamForRoom streams every message of roomID, newest first.
func (s *Store) StreamForRoom(ctx context.Context, roomID string) *Stream {
	return s.stream(ctx, roomID, func(ctx context.Context) ([]model.Message, error) {
		return s.ListRoom(ctx, roomID, 0)
	})
}

// StreamNewSince streams the messages of roomID created after since.
func (s *Store) StreamNewSince(ctx context.Context, roomID string, since model.Timestamp) *Stream {
	return s.stream(ctx, roomID, func(ctx context.Context) ([]model.Message, error) {
		return s.ListNewSince(ctx, roomID, since)
	})
}

func (s *Store) stream(ctx context.Context, roomID string, query func(context.Context) ([]model.Message, error)) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	// Subscribe before the first query so no write between them is missed.
	events, unsub := s.bus.Subscribe(bus.StoreRoomKind(roomID), 1)
	out := make(chan []model.Message, 1)
	st := &Stream{updates: out, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(st.done)
		defer close(out)
		defer unsub()
		for {
			msgs, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("stream query failed", zap.String("room_id", roomID), zap.Error(err))
			} else {
				// Replace an undelivered snapshot with the fresh one.
				select {
				case <-out:
				default:
				}
				out <- msgs
			}
			select {
			case <-events:
			case <-ctx.Done():
				return
			}
		}
	}()
	return st
}
