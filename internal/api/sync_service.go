package api

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/master-rogerio/VCZapO-sub001/internal/bus"
	"github.com/master-rogerio/VCZapO-sub001/internal/outbox"
	"github.com/master-rogerio/VCZapO-sub001/internal/status"
	"github.com/master-rogerio/VCZapO-sub001/internal/sync"
)

func (s *Service) ListRooms(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return Encode(RoomsResponse{Rooms: s.recon.Rooms()})
}

// Backfill fetches a room once and stores the result.
func (s *Service) Backfill(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RoomRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.RoomID == "" {
		return nil, invalid("roomId is required")
	}
	n, err := s.recon.Backfill(ctx, req.RoomID)
	if err != nil {
		return nil, rpcError("backfill", err)
	}
	return Encode(BackfillResponse{Count: n})
}

// WatchEvents forwards bus events matching the requested prefix.
func (s *Service) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	var req EventsRequest
	if err := Decode(in, &req); err != nil {
		return invalid("%v", err)
	}
	prefix := req.Prefix
	if prefix == "" {
		prefix = "sync."
	}
	ch, unsub := s.bus.Subscribe(prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			out, err := Encode(EventEnvelope{
				EventID:          uuid.NewString(),
				Profile:          s.profile,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Kind:             evt.Kind,
				Detail:           eventDetail(evt),
			})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// eventDetail renders the payloads a watcher can act on.
func eventDetail(evt bus.Event) string {
	switch p := evt.Payload.(type) {
	case status.Change:
		return fmt.Sprintf("%s -> %s", p.From, p.To)
	case *sync.Failure:
		return p.Error()
	case sync.Reconciled:
		return fmt.Sprintf("room %s: %d upserted, %d deleted", p.RoomID, p.Upserted, p.Deleted)
	case outbox.Result:
		if p.Err != nil {
			return fmt.Sprintf("message %s: %v", p.MessageID, p.Err)
		}
		return "message " + p.MessageID
	}
	return ""
}
