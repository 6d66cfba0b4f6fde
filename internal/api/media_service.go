package api

import (
	"context"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ResolveMedia returns the cached file for a URL, downloading it on a miss.
// A failed download still succeeds with the remote URL as the handle.
func (s *Service) ResolveMedia(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.media == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "media cache disabled")
	}
	var req MediaRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.URL == "" {
		return nil, invalid("url is required")
	}
	h := s.media.Resolve(ctx, req.URL)
	return Encode(MediaResponse{URL: h.URL(), Path: h.Path(), Local: h.Local()})
}
