package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
	"github.com/master-rogerio/VCZapO-sub001/internal/notify"
	"github.com/master-rogerio/VCZapO-sub001/internal/store"
)

// StatusResponse describes the daemon and its sync session.
type StatusResponse struct {
	Profile    string   `json:"profile"`
	State      string   `json:"state"`
	UserID     string   `json:"userId,omitempty"`
	UptimeMs   int64    `json:"uptimeMs"`
	Rooms      int      `json:"rooms"`
	Watched    []string `json:"watched,omitempty"`
	MediaBytes int64    `json:"mediaBytes"`
}

// LoginRequest starts a session for UserID.
type LoginRequest struct {
	UserID string `json:"userId"`
}

// RoomRequest names one room.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// RoomsResponse is the published room list, newest first.
type RoomsResponse struct {
	Rooms []model.RoomSummary `json:"rooms"`
}

// BackfillResponse reports how many messages a one-shot fetch stored.
type BackfillResponse struct {
	Count int `json:"count"`
}

// ListMessagesRequest pages through a room, newest first. A zero Before
// starts at the newest message.
type ListMessagesRequest struct {
	RoomID string          `json:"roomId"`
	Limit  int             `json:"limit,omitempty"`
	Before model.Timestamp `json:"before"`
}

// MessagesResponse carries messages newest first.
type MessagesResponse struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"hasMore,omitempty"`
}

// SearchRequest is a substring search, optionally scoped to a room.
type SearchRequest struct {
	Query  string `json:"query"`
	RoomID string `json:"roomId,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// SearchResponse lists matches newest first.
type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

// SearchHit is one search match.
type SearchHit struct {
	Message model.Message `json:"message"`
	Snippet string        `json:"snippet"`
}

// SendRequest posts Text to RoomID as the signed-in user.
type SendRequest struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// ResendRequest retries delivery of a stored message.
type ResendRequest struct {
	MessageID string `json:"messageId"`
}

// MessageResponse carries one message.
type MessageResponse struct {
	Message model.Message `json:"message"`
}

// PushRequest records an inbound notification.
type PushRequest struct {
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestampMs,omitempty"`
}

// ReplyRequest is the inline notification reply.
type ReplyRequest struct {
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
}

// MarkReadRequest is the notification mark-as-read action.
type MarkReadRequest struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
}

// ThreadResponse is a conversation's notification history, oldest first.
type ThreadResponse struct {
	Thread []ThreadEntry `json:"thread"`
}

// ThreadEntry is one line of notification history.
type ThreadEntry struct {
	Text         string `json:"text"`
	TimestampMs  int64  `json:"timestampMs"`
	AuthorIsSelf bool   `json:"authorIsSelf,omitempty"`
}

// MediaRequest names a remote media URL.
type MediaRequest struct {
	URL string `json:"url"`
}

// MediaResponse is a resolved media handle: Path when cached, otherwise
// the original URL.
type MediaResponse struct {
	URL   string `json:"url"`
	Path  string `json:"path,omitempty"`
	Local bool   `json:"local"`
}

// EventsRequest filters WatchEvents by kind prefix. Empty means sync events.
type EventsRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// EventEnvelope is one bus event forwarded to a watcher.
type EventEnvelope struct {
	EventID          string `json:"eventId"`
	Profile          string `json:"profile"`
	OccurredAtUnixMs int64  `json:"occurredAtUnixMs"`
	Kind             string `json:"kind"`
	Detail           string `json:"detail,omitempty"`
}

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// Decode fills v from s. A nil Struct leaves v unchanged.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

func searchHits(results []store.SearchResult) []SearchHit {
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{Message: r.Message, Snippet: r.Snippet})
	}
	return hits
}

func threadEntries(entries []notify.Entry) []ThreadEntry {
	out := make([]ThreadEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ThreadEntry{Text: e.Text, TimestampMs: e.TimestampMs, AuthorIsSelf: e.AuthorIsSelf})
	}
	return out
}
