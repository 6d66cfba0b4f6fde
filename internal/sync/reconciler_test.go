package sync

import (
	"context"
	"errors"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/bus"
	"github.com/master-rogerio/VCZapO-sub001/internal/model"
	"github.com/master-rogerio/VCZapO-sub001/internal/roomcache"
	"github.com/master-rogerio/VCZapO-sub001/internal/session"
	"github.com/master-rogerio/VCZapO-sub001/internal/status"
	"github.com/master-rogerio/VCZapO-sub001/internal/store"
)

type fakeSub struct {
	ch     chan Snapshot
	closed chan struct{}
	once   stdsync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{ch: make(chan Snapshot), closed: make(chan struct{})}
}

func (s *fakeSub) Snapshots() <-chan Snapshot { return s.ch }
func (s *fakeSub) Close()                     { s.once.Do(func() { close(s.closed) }) }

func (s *fakeSub) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeRemote struct {
	mu           stdsync.Mutex
	roomSubs     []*fakeSub
	msgSubs      map[string][]*fakeSub
	profiles     map[string]model.Profile
	profileCalls map[string]int
	fetched      map[string][]Document
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		msgSubs:      make(map[string][]*fakeSub),
		profiles:     make(map[string]model.Profile),
		profileCalls: make(map[string]int),
		fetched:      make(map[string][]Document),
	}
}

func (f *fakeRemote) WatchRooms(context.Context, string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := newFakeSub()
	f.roomSubs = append(f.roomSubs, s)
	return s, nil
}

func (f *fakeRemote) WatchMessages(_ context.Context, roomID string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := newFakeSub()
	f.msgSubs[roomID] = append(f.msgSubs[roomID], s)
	return s, nil
}

func (f *fakeRemote) FetchMessages(_ context.Context, roomID string) ([]Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[roomID], nil
}

func (f *fakeRemote) GetProfile(_ context.Context, userID string) (model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls[userID]++
	p, ok := f.profiles[userID]
	if !ok {
		return model.Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (f *fakeRemote) calls(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profileCalls[userID]
}

// waitSub returns the n-th (1-based) subscription from list once it exists.
func waitSub(t *testing.T, f *fakeRemote, list func() []*fakeSub, n int) *fakeSub {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		subs := list()
		f.mu.Unlock()
		if len(subs) >= n {
			return subs[n-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscription %d never opened", n)
	return nil
}

func (f *fakeRemote) roomSub(t *testing.T, n int) *fakeSub {
	return waitSub(t, f, func() []*fakeSub { return f.roomSubs }, n)
}

func (f *fakeRemote) msgSub(t *testing.T, roomID string, n int) *fakeSub {
	return waitSub(t, f, func() []*fakeSub { return f.msgSubs[roomID] }, n)
}

func push(t *testing.T, s *fakeSub, snap Snapshot) {
	t.Helper()
	select {
	case s.ch <- snap:
	case <-s.closed:
		t.Fatal("push to closed subscription")
	case <-time.After(2 * time.Second):
		t.Fatal("listener not receiving")
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	r      *Reconciler
	remote *fakeRemote
	store  *store.Store
	rooms  *roomcache.Cache
	bus    *bus.Bus
	status *status.Machine
	sess   *session.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "messages.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	st := store.New(db, b, zap.NewNop())
	st.Start()
	t.Cleanup(st.Stop)

	rooms, err := roomcache.New(filepath.Join(dir, "state"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	sm := status.NewMachine(b)
	remote := newFakeRemote()
	r := NewReconciler(remote, st, rooms, nil, b, sm, zap.NewNop())
	sess, err := session.Begin("me")
	if err != nil {
		t.Fatal(err)
	}
	return &harness{r: r, remote: remote, store: st, rooms: rooms, bus: b, status: sm, sess: sess}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.r.Start(context.Background(), h.sess); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.r.Stop)
}

func roomDoc(id, other string, sec int64, last string) Document {
	return Document{ID: id, Fields: map[string]any{
		"participants":         []any{"me", other},
		"lastMessage":          last,
		"lastMessageTimestamp": map[string]any{"seconds": float64(sec)},
		"lastMessageSenderId":  other,
	}}
}

func msgDoc(id string, sec int64, content string) Document {
	return Document{ID: id, Fields: map[string]any{
		"content":    content,
		"createdAt":  map[string]any{"seconds": float64(sec)},
		"senderId":   "bob",
		"senderName": "Bob",
		"type":       "text",
	}}
}

func roomIDs(rooms []model.RoomSummary) []string {
	ids := make([]string, len(rooms))
	for i, r := range rooms {
		ids[i] = r.RoomID
	}
	return ids
}

func TestMessageSnapshotsMergeIntoStore(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.r.WatchRoom("r1"); err != nil {
		t.Fatal(err)
	}
	sub := h.remote.msgSub(t, "r1", 1)

	st := h.store.StreamForRoom(context.Background(), "r1")
	defer st.Close()

	push(t, sub, Snapshot{Docs: []Document{msgDoc("a", 1, "first"), msgDoc("b", 2, "second")}})
	push(t, sub, Snapshot{Docs: []Document{msgDoc("a", 1, "first, edited"), msgDoc("c", 3, "third")}})

	want := []string{"c/third", "b/second", "a/first, edited"}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msgs := <-st.Updates():
			got := make([]string, len(msgs))
			for i, m := range msgs {
				got[i] = m.ID + "/" + m.Content
			}
			if cmp.Equal(want, got) {
				return
			}
		case <-deadline:
			t.Fatalf("stream never reached %v", want)
		}
	}
}

func TestRemoteDeletionPropagates(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.r.WatchRoom("r1"); err != nil {
		t.Fatal(err)
	}
	sub := h.remote.msgSub(t, "r1", 1)
	push(t, sub, Snapshot{Docs: []Document{msgDoc("a", 1, "x"), msgDoc("b", 2, "y")}})
	push(t, sub, Snapshot{Removed: []string{"a"}})

	eventually(t, "deletion of a", func() bool {
		m, err := h.store.Get(context.Background(), "a")
		return err == nil && m == nil
	})
	if m, _ := h.store.Get(context.Background(), "b"); m == nil {
		t.Error("b was deleted too")
	}
}

func TestMessageCheckpointAdvances(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.r.WatchRoom("r1"); err != nil {
		t.Fatal(err)
	}
	sub := h.remote.msgSub(t, "r1", 1)
	push(t, sub, Snapshot{Docs: []Document{msgDoc("a", 5, "x"), msgDoc("b", 9, "y")}})
	push(t, sub, Snapshot{Docs: []Document{msgDoc("a", 5, "x edited")}})

	eventually(t, "checkpoint at 9s", func() bool {
		cp, err := h.store.RoomCheckpoint(context.Background(), "r1")
		return err == nil && cp == model.Timestamp{Seconds: 9}
	})
}

func TestRoomReconciliation(t *testing.T) {
	h := newHarness(t)
	h.remote.profiles["bob"] = model.Profile{UserID: "bob", Username: "Bob", ProfileURL: "https://cdn/bob.png"}
	published, unsub := h.bus.Subscribe(bus.KindRoomsPublished, 4)
	defer unsub()
	h.start(t)
	sub := h.remote.roomSub(t, 1)

	push(t, sub, Snapshot{Docs: []Document{
		roomDoc("r2", "bob", 200, "newer"),
		roomDoc("r1", "carol", 100, "older"),
		{ID: "broken", Fields: map[string]any{"participants": []any{"me"}}},
	}})

	var rooms []model.RoomSummary
	select {
	case evt := <-published:
		rooms = evt.Payload.([]model.RoomSummary)
	case <-time.After(2 * time.Second):
		t.Fatal("no rooms.published event")
	}
	if diff := cmp.Diff([]string{"r2", "r1"}, roomIDs(rooms)); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	wantBob := model.Participant{ID: "bob", DisplayName: "Bob", AvatarRef: "https://cdn/bob.png"}
	if diff := cmp.Diff(wantBob, rooms[0].OtherParticipant); diff != "" {
		t.Errorf("participant (-want +got):\n%s", diff)
	}
	if rooms[1].OtherParticipant != (model.Participant{ID: "carol"}) {
		t.Errorf("profile-less participant = %+v", rooms[1].OtherParticipant)
	}
	if !cmp.Equal(rooms, h.r.Rooms()) {
		t.Error("Rooms() differs from published list")
	}
	eventually(t, "state LIVE", func() bool { return h.status.Current() == status.Live })

	// A second snapshot must not refetch memoized profiles.
	push(t, sub, Snapshot{Docs: []Document{roomDoc("r2", "bob", 300, "newest")}})
	eventually(t, "second publish", func() bool {
		r := h.r.Rooms()
		return len(r) == 1 && r[0].LastMessage == "newest"
	})
	if n := h.remote.calls("bob"); n != 1 {
		t.Errorf("bob profile fetched %d times, want 1", n)
	}
	push(t, sub, Snapshot{Docs: []Document{roomDoc("r1", "carol", 400, "again")}})
	eventually(t, "third publish", func() bool {
		r := h.r.Rooms()
		return len(r) == 1 && r[0].LastMessage == "again"
	})
	if n := h.remote.calls("carol"); n != 1 {
		t.Errorf("missing carol profile fetched %d times, want 1", n)
	}

	eventually(t, "snapshot persisted", func() bool {
		saved, err := h.rooms.Load()
		return err == nil && len(saved) == 1 && saved[0].LastMessage == "newest"
	})

	if got := h.r.DisplayName("bob"); got != "Bob" {
		t.Errorf("DisplayName(bob) = %q", got)
	}
	if got := h.r.DisplayName("carol"); got != "" {
		t.Errorf("DisplayName(carol) = %q, want empty", got)
	}
}

func TestWarmStartPublishesOfflineSnapshot(t *testing.T) {
	h := newHarness(t)
	cached := []model.RoomSummary{{RoomID: "r9", LastMessage: "from disk", OtherParticipant: model.Participant{ID: "dan"}}}
	if err := h.rooms.Save(cached); err != nil {
		t.Fatal(err)
	}
	h.start(t)
	if diff := cmp.Diff(cached, h.r.Rooms()); diff != "" {
		t.Errorf("warm start (-want +got):\n%s", diff)
	}
}

func TestListenerFailureAndRetry(t *testing.T) {
	h := newHarness(t)
	failures, unsub := h.bus.Subscribe(bus.KindSyncFailed, 4)
	defer unsub()
	h.start(t)

	first := h.remote.roomSub(t, 1)
	push(t, first, Snapshot{Err: errors.New("unavailable")})

	select {
	case evt := <-failures:
		f, ok := evt.Payload.(*Failure)
		if !ok {
			t.Fatalf("payload %T", evt.Payload)
		}
		if f.Listener != ListenerRooms || f.Err.Error() != "unavailable" {
			t.Errorf("failure = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no failure published")
	}
	eventually(t, "state FAILED", func() bool { return h.status.Current() == status.Failed })
	eventually(t, "failed sub closed", first.isClosed)

	if err := h.r.Retry(); err != nil {
		t.Fatal(err)
	}
	second := h.remote.roomSub(t, 2)
	push(t, second, Snapshot{Docs: []Document{roomDoc("r1", "bob", 1, "back")}})
	eventually(t, "state LIVE after retry", func() bool { return h.status.Current() == status.Live })
}

func TestRetryRejectedWhileSubscribing(t *testing.T) {
	h := newHarness(t)
	if err := h.r.Retry(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Retry before Start = %v", err)
	}
	h.start(t)
	if err := h.r.Retry(); err == nil {
		t.Error("Retry while SUBSCRIBING should fail")
	}
}

func TestRetryResubscribesWatchedRooms(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.r.WatchRoom("r1"); err != nil {
		t.Fatal(err)
	}
	msgs := h.remote.msgSub(t, "r1", 1)
	push(t, msgs, Snapshot{Err: errors.New("permission denied")})
	eventually(t, "state FAILED", func() bool { return h.status.Current() == status.Failed })

	if err := h.r.Retry(); err != nil {
		t.Fatal(err)
	}
	again := h.remote.msgSub(t, "r1", 2)
	push(t, again, Snapshot{Docs: []Document{msgDoc("a", 1, "ok")}})
	eventually(t, "message stored", func() bool {
		m, _ := h.store.Get(context.Background(), "a")
		return m != nil
	})
}

func TestUnwatchClosesRemoteListener(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.r.WatchRoom("r1"); err != nil {
		t.Fatal(err)
	}
	if err := h.r.WatchRoom("r1"); err != nil {
		t.Fatal(err)
	}
	sub := h.remote.msgSub(t, "r1", 1)
	h.r.UnwatchRoom("r1")
	if !sub.isClosed() {
		t.Error("remote listener still registered")
	}
	if w := h.r.Watched(); len(w) != 0 {
		t.Errorf("watched = %v", w)
	}
	h.remote.mu.Lock()
	n := len(h.remote.msgSubs["r1"])
	h.remote.mu.Unlock()
	if n != 1 {
		t.Errorf("subscriptions opened = %d, want 1", n)
	}
}

func TestBackfillUsesSharedDecode(t *testing.T) {
	h := newHarness(t)
	h.remote.fetched["r1"] = []Document{msgDoc("a", 1, "x"), {ID: "", Fields: map[string]any{}}, msgDoc("b", 2, "y")}
	h.start(t)

	n, err := h.r.Backfill(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("backfilled %d, want 2", n)
	}
	msgs, err := h.store.ListRoom(context.Background(), "r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "b" || msgs[0].SenderName != "Bob" {
		t.Errorf("stored = %+v", msgs)
	}
}

func TestEndSessionTearsDown(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.r.WatchRoom("r1"); err != nil {
		t.Fatal(err)
	}
	rooms := h.remote.roomSub(t, 1)
	msgs := h.remote.msgSub(t, "r1", 1)
	push(t, rooms, Snapshot{Docs: []Document{roomDoc("r1", "bob", 1, "hi")}})
	push(t, msgs, Snapshot{Docs: []Document{msgDoc("a", 1, "hi")}})
	eventually(t, "message stored", func() bool {
		m, _ := h.store.Get(context.Background(), "a")
		return m != nil
	})
	eventually(t, "snapshot persisted", func() bool {
		saved, _ := h.rooms.Load()
		return len(saved) == 1
	})

	if err := h.r.EndSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !rooms.isClosed() || !msgs.isClosed() {
		t.Error("listeners still registered after EndSession")
	}
	if !h.sess.Ended() {
		t.Error("session not ended")
	}
	if len(h.r.Rooms()) != 0 {
		t.Errorf("rooms = %v", h.r.Rooms())
	}
	if saved, _ := h.rooms.Load(); len(saved) != 0 {
		t.Errorf("offline snapshot = %v", saved)
	}
	if m, _ := h.store.Get(context.Background(), "a"); m != nil {
		t.Error("messages survived EndSession")
	}
	if h.status.Current() != status.Stopped {
		t.Errorf("state = %s", h.status.Current())
	}

	next, err := session.Begin("someone-else")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.r.Start(context.Background(), next); err != nil {
		t.Fatalf("restart after logout: %v", err)
	}
}
