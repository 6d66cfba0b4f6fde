package sync

import "fmt"

// Listener names carried by Failure.
const (
	ListenerRooms    = "rooms"
	ListenerMessages = "messages"
)

// Failure is published on the bus when a remote listener stops with an
// error. Listeners are not restarted until Retry.
type Failure struct {
	Listener string
	RoomID   string // set for message listeners
	Err      error
}

func (f *Failure) Error() string {
	if f.RoomID != "" {
		return fmt.Sprintf("%s listener for room %s: %v", f.Listener, f.RoomID, f.Err)
	}
	return fmt.Sprintf("%s listener: %v", f.Listener, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Reconciled is the payload of sync.reconciled events.
type Reconciled struct {
	RoomID   string
	Upserted int
	Deleted  int
}
