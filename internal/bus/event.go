package bus

import "time"

// Event is a change notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix, so "store." receives every
// store change and StoreRoomKind(id) only one room's.
const (
	KindStorePrefix  = "store."
	KindStoreCleared = "store.cleared"

	KindRoomsPublished = "rooms.published"

	KindSyncStateChanged = "sync.state_changed"
	KindSyncFailed       = "sync.failed"
	KindSyncReconciled   = "sync.reconciled"

	KindOutboxAck    = "outbox.ack"
	KindOutboxFailed = "outbox.failed"
)

// StoreRoomKind is the kind published after a write touches roomID.
// The trailing dot keeps "r1" from matching "r10".
func StoreRoomKind(roomID string) string {
	return KindStorePrefix + "room." + roomID + "."
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
