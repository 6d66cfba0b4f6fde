package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	gosync "sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/master-rogerio/VCZapO-sub001/internal/sync"
)

// Feed frame types.
const (
	frameSnapshot = "snapshot"
	frameError    = "error"
)

// frame is one server message on a feed connection.
type frame struct {
	Type    string          `json:"type"`
	Docs    []sync.Document `json:"docs,omitempty"`
	Removed []string        `json:"removed,omitempty"`
	Message string          `json:"message,omitempty"`
}

// feedReadLimit bounds a single snapshot frame.
const feedReadLimit = 16 << 20

// WatchRooms opens the room-list feed for userID.
func (c *Client) WatchRooms(ctx context.Context, userID string) (sync.Subscription, error) {
	return c.watch(ctx, url.Values{"collection": {"rooms"}, "userId": {userID}})
}

// WatchMessages opens the message feed for roomID.
func (c *Client) WatchMessages(ctx context.Context, roomID string) (sync.Subscription, error) {
	return c.watch(ctx, url.Values{"collection": {"messages"}, "roomId": {roomID}})
}

func (c *Client) watch(ctx context.Context, q url.Values) (sync.Subscription, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(ctx, c.feedURL+"/watch?"+q.Encode(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(feedReadLimit)

	ctx, cancel := context.WithCancel(ctx)
	s := &feedSubscription{
		conn:   conn,
		ch:     make(chan sync.Snapshot),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: c.logger.With(zap.String("feed", q.Encode())),
	}
	go s.readLoop(ctx)
	return s, nil
}

// feedSubscription is one WebSocket connection. Closing it closes the
// connection, which unregisters the query server-side.
type feedSubscription struct {
	conn      *websocket.Conn
	ch        chan sync.Snapshot
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce gosync.Once
	logger    *zap.Logger
}

func (s *feedSubscription) Snapshots() <-chan sync.Snapshot { return s.ch }

func (s *feedSubscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	<-s.done
}

func (s *feedSubscription) readLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)
	for {
		var f frame
		if err := wsjson.Read(ctx, s.conn, &f); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.emit(ctx, sync.Snapshot{Err: feedError(err)})
			return
		}
		switch f.Type {
		case frameSnapshot:
			if !s.emit(ctx, sync.Snapshot{Docs: f.Docs, Removed: f.Removed}) {
				return
			}
		case frameError:
			s.emit(ctx, sync.Snapshot{Err: fmt.Errorf("feed error: %s", f.Message)})
			return
		default:
			s.logger.Debug("ignoring feed frame", zap.String("type", f.Type))
		}
	}
}

func (s *feedSubscription) emit(ctx context.Context, snap sync.Snapshot) bool {
	select {
	case s.ch <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

// errFeedEnded is reported when the server closes the feed normally.
var errFeedEnded = errors.New("feed closed by server")

func feedError(err error) error {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return errFeedEnded
	}
	return fmt.Errorf("feed read: %w", err)
}
