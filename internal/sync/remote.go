package sync

import (
	"context"
	"errors"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
)

// ErrProfileNotFound is returned by Remote.GetProfile for an unknown user.
var ErrProfileNotFound = errors.New("profile not found")

// Document is one loosely typed remote record.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Snapshot is one observation of a live remote query. Docs holds the added
// and modified documents, in the query's order; Removed the ids deleted
// since the previous snapshot. A non-nil Err ends the subscription.
type Snapshot struct {
	Docs    []Document
	Removed []string
	Err     error
}

// Subscription is a cancellable live query. Close unregisters the remote
// listener and closes the Snapshots channel.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Close()
}

// Remote is the backend holding rooms, messages and profiles.
type Remote interface {
	// WatchRooms streams the rooms whose participants include userID,
	// newest lastMessageTimestamp first. Each snapshot is the full list.
	WatchRooms(ctx context.Context, userID string) (Subscription, error)
	// WatchMessages streams the message subcollection of roomID.
	WatchMessages(ctx context.Context, roomID string) (Subscription, error)
	// FetchMessages is a one-shot read of roomID's messages.
	FetchMessages(ctx context.Context, roomID string) ([]Document, error)
	GetProfile(ctx context.Context, userID string) (model.Profile, error)
}
