package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/master-rogerio/VCZapO-sub001/internal/session"
)

func (s *Service) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := StatusResponse{
		Profile:  s.profile,
		State:    string(s.machine.Current()),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
		Rooms:    len(s.recon.Rooms()),
		Watched:  s.recon.Watched(),
	}
	if sess := s.recon.Session(); sess != nil {
		resp.UserID = sess.UserID()
	}
	if s.media != nil {
		if n, err := s.media.Size(); err == nil {
			resp.MediaBytes = n
		}
	}
	return Encode(resp)
}

// Login begins a session and subscribes to the user's room list.
func (s *Service) Login(_ context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req LoginRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	sess, err := session.Begin(req.UserID)
	if err != nil {
		return nil, invalid("%v", err)
	}
	// Listeners outlive the request.
	if err := s.recon.Start(context.Background(), sess); err != nil {
		return nil, rpcError("login", err)
	}
	s.logger.Info("session started", zap.String("user_id", req.UserID))
	return &emptypb.Empty{}, nil
}

// Logout ends the session and wipes everything it cached locally.
func (s *Service) Logout(ctx context.Context, _ *structpb.Struct) (*emptypb.Empty, error) {
	if s.recon.Session() == nil {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "not logged in")
	}
	err := s.recon.EndSession(ctx)
	s.resetWatchers()
	if s.media != nil {
		if mErr := s.media.Clear(); mErr != nil {
			s.logger.Warn("media cache not cleared", zap.Error(mErr))
		}
	}
	s.actions.Buffer().Reset()
	if err != nil {
		return nil, rpcError("logout", err)
	}
	s.logger.Info("session ended")
	return &emptypb.Empty{}, nil
}

// Retry resubscribes every listener after a failure.
func (s *Service) Retry(_ context.Context, _ *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.recon.Retry(); err != nil {
		if s.recon.Session() == nil {
			return nil, rpcError("retry", err)
		}
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "retry: %v", err)
	}
	return &emptypb.Empty{}, nil
}

// resetWatchers forgets the WatchRoom streams of the ended session. Streams
// still open keep reading the store but no longer hold a room listener.
func (s *Service) resetWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = make(map[string]int)
	s.epoch++
}
