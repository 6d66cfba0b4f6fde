// Package client is the daemon's gRPC client over the profile socket.
package client

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/master-rogerio/VCZapO-sub001/internal/api"
	"github.com/master-rogerio/VCZapO-sub001/internal/model"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req any, out proto.Message) error {
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, api.FullMethod(method), in, out)
}

func (c *Client) query(ctx context.Context, method string, req, resp any) error {
	out := new(structpb.Struct)
	if err := c.call(ctx, method, req, out); err != nil {
		return err
	}
	return api.Decode(out, resp)
}

func (c *Client) exec(ctx context.Context, method string, req any) error {
	return c.call(ctx, method, req, new(emptypb.Empty))
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var resp api.StatusResponse
	err := c.query(ctx, api.MethodStatus, struct{}{}, &resp)
	return resp, err
}

func (c *Client) Login(ctx context.Context, userID string) error {
	return c.exec(ctx, api.MethodLogin, api.LoginRequest{UserID: userID})
}

func (c *Client) Logout(ctx context.Context) error {
	return c.exec(ctx, api.MethodLogout, struct{}{})
}

func (c *Client) Retry(ctx context.Context) error {
	return c.exec(ctx, api.MethodRetry, struct{}{})
}

func (c *Client) ListRooms(ctx context.Context) ([]model.RoomSummary, error) {
	var resp api.RoomsResponse
	err := c.query(ctx, api.MethodListRooms, struct{}{}, &resp)
	return resp.Rooms, err
}

func (c *Client) Backfill(ctx context.Context, roomID string) (int, error) {
	var resp api.BackfillResponse
	err := c.query(ctx, api.MethodBackfill, api.RoomRequest{RoomID: roomID}, &resp)
	return resp.Count, err
}

func (c *Client) ListMessages(ctx context.Context, req api.ListMessagesRequest) (api.MessagesResponse, error) {
	var resp api.MessagesResponse
	err := c.query(ctx, api.MethodListMessages, req, &resp)
	return resp, err
}

func (c *Client) Search(ctx context.Context, req api.SearchRequest) ([]api.SearchHit, error) {
	var resp api.SearchResponse
	err := c.query(ctx, api.MethodSearch, req, &resp)
	return resp.Results, err
}

func (c *Client) Send(ctx context.Context, roomID, text string) (model.Message, error) {
	var resp api.MessageResponse
	err := c.query(ctx, api.MethodSend, api.SendRequest{RoomID: roomID, Text: text}, &resp)
	return resp.Message, err
}

func (c *Client) Resend(ctx context.Context, messageID string) (model.Message, error) {
	var resp api.MessageResponse
	err := c.query(ctx, api.MethodResend, api.ResendRequest{MessageID: messageID}, &resp)
	return resp.Message, err
}

func (c *Client) Push(ctx context.Context, req api.PushRequest) ([]api.ThreadEntry, error) {
	var resp api.ThreadResponse
	err := c.query(ctx, api.MethodPush, req, &resp)
	return resp.Thread, err
}

func (c *Client) Reply(ctx context.Context, req api.ReplyRequest) ([]api.ThreadEntry, error) {
	var resp api.ThreadResponse
	err := c.query(ctx, api.MethodReply, req, &resp)
	return resp.Thread, err
}

func (c *Client) MarkRead(ctx context.Context, roomID, senderID string) error {
	return c.exec(ctx, api.MethodMarkRead, api.MarkReadRequest{RoomID: roomID, SenderID: senderID})
}

func (c *Client) ResolveMedia(ctx context.Context, url string) (api.MediaResponse, error) {
	var resp api.MediaResponse
	err := c.query(ctx, api.MethodResolveMedia, api.MediaRequest{URL: url}, &resp)
	return resp, err
}

// WatchRoom calls fn with the room's messages after every change until ctx
// is cancelled, the daemon ends the stream or fn returns an error.
func (c *Client) WatchRoom(ctx context.Context, roomID string, fn func([]model.Message) error) error {
	return c.watch(ctx, api.MethodWatchRoom, api.RoomRequest{RoomID: roomID}, func(s *structpb.Struct) error {
		var resp api.MessagesResponse
		if err := api.Decode(s, &resp); err != nil {
			return err
		}
		return fn(resp.Messages)
	})
}

// WatchEvents calls fn for every daemon event whose kind has prefix.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(api.EventEnvelope) error) error {
	return c.watch(ctx, api.MethodWatchEvents, api.EventsRequest{Prefix: prefix}, func(s *structpb.Struct) error {
		var evt api.EventEnvelope
		if err := api.Decode(s, &evt); err != nil {
			return err
		}
		return fn(evt)
	})
}

func (c *Client) watch(ctx context.Context, method string, req any, fn func(*structpb.Struct) error) error {
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, api.FullMethod(method))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(out); err != nil {
			return err
		}
	}
}
