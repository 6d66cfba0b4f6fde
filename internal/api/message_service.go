package api

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/master-rogerio/VCZapO-sub001/internal/notify"
)

func (s *Service) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListMessagesRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.RoomID == "" {
		return nil, invalid("roomId is required")
	}
	limit := pageSize(req.Limit)
	msgs, err := s.store.ListBefore(ctx, req.RoomID, req.Before, limit)
	if err != nil {
		return nil, rpcError("list messages", err)
	}
	return Encode(MessagesResponse{Messages: msgs, HasMore: len(msgs) == limit})
}

func (s *Service) Search(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SearchRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.Query == "" {
		return nil, invalid("query is required")
	}
	results, err := s.store.SearchMessages(ctx, req.Query, req.RoomID, pageSize(req.Limit))
	if err != nil {
		return nil, rpcError("search messages", err)
	}
	return Encode(SearchResponse{Results: searchHits(results)})
}

// Send posts a message as the signed-in user. The optimistic row is
// returned even when delivery fails; Resend retries it.
func (s *Service) Send(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.RoomID == "" {
		return nil, invalid("roomId is required")
	}
	userID, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	msg, err := s.sender.Send(ctx, req.RoomID, userID, req.Text)
	if err != nil && msg.ID == "" {
		return nil, rpcError("send", err)
	}
	return Encode(MessageResponse{Message: msg})
}

func (s *Service) Resend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ResendRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	msg, err := s.sender.Resend(ctx, req.MessageID)
	if err != nil {
		return nil, rpcError("resend", err)
	}
	return Encode(MessageResponse{Message: msg})
}

// Push records an inbound notification handed over by the push transport.
func (s *Service) Push(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PushRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.RoomID == "" {
		return nil, invalid("roomId is required")
	}
	thread := s.actions.Push(notify.Push{
		RoomID:      req.RoomID,
		SenderID:    req.SenderID,
		SenderName:  req.SenderName,
		Text:        req.Text,
		TimestampMs: req.TimestampMs,
	})
	return Encode(ThreadResponse{Thread: threadEntries(thread)})
}

func (s *Service) Reply(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ReplyRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	thread, err := s.actions.Reply(ctx, notify.Reply{
		RoomID:      req.RoomID,
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Text:        req.Text,
	})
	if err != nil {
		return nil, invalid("%v", err)
	}
	return Encode(ThreadResponse{Thread: threadEntries(thread)})
}

func (s *Service) MarkRead(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req MarkReadRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if err := s.actions.MarkRead(ctx, notify.MarkRead{RoomID: req.RoomID, SenderID: req.SenderID}); err != nil {
		return nil, invalid("%v", err)
	}
	return &emptypb.Empty{}, nil
}

// WatchRoom keeps the room's remote listener running while the stream is
// open and sends the room's messages, newest first, after every change.
func (s *Service) WatchRoom(in *structpb.Struct, stream grpc.ServerStream) error {
	var req RoomRequest
	if err := Decode(in, &req); err != nil {
		return invalid("%v", err)
	}
	if req.RoomID == "" {
		return invalid("roomId is required")
	}
	epoch, err := s.acquireRoom(req.RoomID)
	if err != nil {
		return rpcError("watch room", err)
	}
	defer s.releaseRoom(req.RoomID, epoch)

	st := s.store.StreamForRoom(stream.Context(), req.RoomID)
	defer st.Close()
	for msgs := range st.Updates() {
		out, err := Encode(MessagesResponse{Messages: msgs})
		if err != nil {
			return err
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
	return nil
}

// acquireRoom registers one WatchRoom stream. The reconciler forgets its
// watched rooms when a session ends, so WatchRoom is called every time.
func (s *Service) acquireRoom(roomID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recon.WatchRoom(roomID); err != nil {
		return 0, err
	}
	s.watchers[roomID]++
	return s.epoch, nil
}

func (s *Service) releaseRoom(roomID string, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.watchers[roomID]--
	if s.watchers[roomID] > 0 {
		return
	}
	delete(s.watchers, roomID)
	s.recon.UnwatchRoom(roomID)
	s.logger.Debug("room unwatched", zap.String("room_id", roomID))
}
