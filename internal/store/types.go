package store

import (
	"errors"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
)

var (
	// ErrNotFound is returned by patch operations on an unknown message id.
	ErrNotFound = errors.New("store: message not found")
	// ErrClosed is returned for writes submitted after Stop.
	ErrClosed = errors.New("store: writer stopped")
)

// Write operation names carried in Change events and metrics labels.
const (
	OpUpsert       = "upsert"
	OpSetRead      = "set_read"
	OpSetDelivered = "set_delivered"
	OpEdit         = "edit_content"
	OpDelete       = "delete"
	OpClearAll     = "clear_all"
)

// Change is the payload of the bus event published after a committed write.
type Change struct {
	Op     string
	RoomID string
	IDs    []string
}

// SearchResult holds a message with a snippet around the first match.
type SearchResult struct {
	Message model.Message
	Snippet string
}

// RoomCheckpointKey is the sync_state key holding the newest reconciled
// createdAt for roomID.
func RoomCheckpointKey(roomID string) string {
	return "room:" + roomID + ":newest"
}
