// Package model holds the chat domain types shared by the store, the room
// index snapshot and the sync reconciler.
package model

import "time"

// Timestamp is a remote-assigned logical time, kept as an explicit
// seconds/nanoseconds pair so it serializes the same way everywhere.
type Timestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int32 `json:"nanoseconds"`
}

// TimestampFromTime converts t to a Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanoseconds: int32(t.Nanosecond())}
}

// TimestampFromUnixNano converts nanoseconds since the epoch to a Timestamp.
func TimestampFromUnixNano(ns int64) Timestamp {
	return TimestampFromTime(time.Unix(0, ns))
}

// Time returns t as a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanoseconds)).UTC()
}

// UnixNano returns t as nanoseconds since the epoch.
func (t Timestamp) UnixNano() int64 {
	return t.Seconds*int64(time.Second) + int64(t.Nanoseconds)
}

// IsZero reports whether t is the zero Timestamp.
func (t Timestamp) IsZero() bool {
	return t.Seconds == 0 && t.Nanoseconds == 0
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or after u.
func (t Timestamp) Compare(u Timestamp) int {
	switch {
	case t.Seconds < u.Seconds:
		return -1
	case t.Seconds > u.Seconds:
		return 1
	case t.Nanoseconds < u.Nanoseconds:
		return -1
	case t.Nanoseconds > u.Nanoseconds:
		return 1
	}
	return 0
}

// MessageType enumerates the kinds of chat message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeFile     MessageType = "file"
	TypeSticker  MessageType = "sticker"
	TypeLocation MessageType = "location"
)

// ParseMessageType maps a wire string to a MessageType. Unknown values
// report ok=false and fall back to TypeText.
func ParseMessageType(s string) (MessageType, bool) {
	switch t := MessageType(s); t {
	case TypeText, TypeImage, TypeAudio, TypeVideo, TypeFile, TypeSticker, TypeLocation:
		return t, true
	}
	return TypeText, false
}

// Message is one chat message as stored locally.
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"roomId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Content    string      `json:"content"`
	CreatedAt  Timestamp   `json:"createdAt"`
	Type       MessageType `json:"type"`

	// Optional payload, populated according to Type.
	MediaRef   string   `json:"mediaRef,omitempty"`
	DurationMs int64    `json:"durationMs,omitempty"`
	LatLong    *LatLong `json:"latLong,omitempty"`

	Read      bool              `json:"read"`
	Delivered bool              `json:"delivered"`
	Reactions map[string]string `json:"reactions,omitempty"` // userID -> reaction
	ReplyToID string            `json:"replyToId,omitempty"` // may dangle
}

// Participant is a denormalized snapshot of the other member of a room.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
}

// RoomSummary is one conversation as shown in the room list.
type RoomSummary struct {
	RoomID               string      `json:"roomId"`
	LastMessage          string      `json:"lastMessage"`
	LastMessageTimestamp Timestamp   `json:"lastMessageTimestamp"`
	LastMessageSenderID  string      `json:"lastMessageSenderId"`
	OtherParticipant     Participant `json:"otherParticipant"`
	PinnedMessageID      string      `json:"pinnedMessageId,omitempty"`
}

// Profile is a remote user profile.
type Profile struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	ProfileURL  string `json:"profileUrl"`
	DeviceToken string `json:"deviceToken,omitempty"`
}
