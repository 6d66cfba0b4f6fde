// Package sync keeps the local message store and room index consistent with
// the live remote feeds.
package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	stdsync "sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/bus"
	"github.com/master-rogerio/VCZapO-sub001/internal/metrics"
	"github.com/master-rogerio/VCZapO-sub001/internal/model"
	"github.com/master-rogerio/VCZapO-sub001/internal/roomcache"
	"github.com/master-rogerio/VCZapO-sub001/internal/roomcrypt"
	"github.com/master-rogerio/VCZapO-sub001/internal/session"
	"github.com/master-rogerio/VCZapO-sub001/internal/status"
	"github.com/master-rogerio/VCZapO-sub001/internal/store"
)

// ErrNotStarted is returned by operations that need an active session.
var ErrNotStarted = errors.New("reconciler not started")

// ErrAlreadyStarted is returned by Start while a session is active.
var ErrAlreadyStarted = errors.New("reconciler already started")

// Reconciler owns the room-list listener and one message listener per
// watched room.
type Reconciler struct {
	remote Remote
	store  *store.Store
	rooms  *roomcache.Cache
	dec    roomcrypt.Decrypter
	bus    *bus.Bus
	status *status.Machine
	logger *zap.Logger

	published atomic.Pointer[[]model.RoomSummary]

	mu       stdsync.Mutex
	sess     *session.Session
	ctx      context.Context
	cancel   context.CancelFunc
	roomsL   *listener
	watched  map[string]*listener
	persist  chan []model.RoomSummary
	persistD chan struct{}
}

// NewReconciler creates a reconciler. dec may be nil, in which case
// encrypted content is kept raw.
func NewReconciler(remote Remote, st *store.Store, rooms *roomcache.Cache, dec roomcrypt.Decrypter, b *bus.Bus, sm *status.Machine, logger *zap.Logger) *Reconciler {
	if dec == nil {
		dec = roomcrypt.None{}
	}
	r := &Reconciler{
		remote:  remote,
		store:   st,
		rooms:   rooms,
		dec:     dec,
		bus:     b,
		status:  sm,
		logger:  logger,
		watched: make(map[string]*listener),
	}
	empty := []model.RoomSummary{}
	r.published.Store(&empty)
	return r
}

// Rooms returns the last published room list, newest first. The slice is
// shared and must not be modified.
func (r *Reconciler) Rooms() []model.RoomSummary {
	return *r.published.Load()
}

// Session returns the active session, or nil.
func (r *Reconciler) Session() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// DisplayName returns the memoized username for userID in the active
// session, or "" when there is no session or the profile is not known yet.
func (r *Reconciler) DisplayName(userID string) string {
	sess := r.Session()
	if sess == nil {
		return ""
	}
	p, ok := sess.Profile(userID)
	if !ok {
		return ""
	}
	return p.Username
}

// Start begins a session: it publishes the offline room snapshot, then
// subscribes to the room list.
func (r *Reconciler) Start(ctx context.Context, sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != nil {
		return ErrAlreadyStarted
	}

	cached, err := r.rooms.Load()
	if err != nil {
		r.logger.Warn("room snapshot unavailable", zap.Error(err))
	}
	if len(cached) > 0 {
		r.publish(cached)
		r.logger.Info("published offline room snapshot", zap.Int("rooms", len(cached)))
	}

	r.sess = sess
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.persist = make(chan []model.RoomSummary, 1)
	r.persistD = make(chan struct{})
	go r.persistLoop(r.ctx, r.persist, r.persistD)

	r.setState(status.Subscribing)
	r.roomsL = r.startRoomsLocked()
	return nil
}

// Stop cancels every listener. Watched rooms are forgotten.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Reconciler) stopLocked() {
	if r.sess == nil {
		return
	}
	r.stopListenersLocked()
	clear(r.watched)
	r.cancel()
	<-r.persistD
	r.sess = nil
	r.setState(status.Stopped)
}

func (r *Reconciler) stopListenersLocked() {
	if r.roomsL != nil {
		r.roomsL.stop()
		r.roomsL = nil
	}
	for _, l := range r.watched {
		if l != nil {
			l.stop()
		}
	}
}

// EndSession tears down the session: listeners stop, the profile memo and
// published room list are dropped, and the offline snapshot and local
// messages are deleted.
func (r *Reconciler) EndSession(ctx context.Context) error {
	r.mu.Lock()
	sess := r.sess
	r.stopLocked()
	empty := []model.RoomSummary{}
	r.publish(empty)
	r.mu.Unlock()

	if sess != nil {
		sess.End()
	}
	var errs []error
	if err := r.rooms.Clear(); err != nil {
		errs = append(errs, err)
	}
	if err := r.store.ClearAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear messages: %w", err))
	}
	return errors.Join(errs...)
}

// Retry cancels every listener and subscribes again. It is only valid once
// the listeners have gone live or failed.
func (r *Reconciler) Retry() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return ErrNotStarted
	}
	if !r.status.CanRetry() {
		return fmt.Errorf("cannot retry while %s", r.status.Current())
	}
	r.stopListenersLocked()
	r.setState(status.Subscribing)
	r.roomsL = r.startRoomsLocked()
	for roomID := range r.watched {
		r.watched[roomID] = r.startMessagesLocked(roomID)
	}
	r.logger.Info("sync listeners restarted", zap.Int("rooms_watched", len(r.watched)))
	return nil
}

// WatchRoom starts the message listener for roomID. Watching a room twice
// is a no-op.
func (r *Reconciler) WatchRoom(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return ErrNotStarted
	}
	if _, ok := r.watched[roomID]; ok {
		return nil
	}
	r.watched[roomID] = r.startMessagesLocked(roomID)
	return nil
}

// UnwatchRoom stops the message listener for roomID.
func (r *Reconciler) UnwatchRoom(roomID string) {
	r.mu.Lock()
	l, ok := r.watched[roomID]
	delete(r.watched, roomID)
	r.mu.Unlock()
	if ok && l != nil {
		l.stop()
	}
}

// Watched returns the rooms with an active message listener.
func (r *Reconciler) Watched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.watched))
	for id := range r.watched {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Backfill reads roomID once and upserts the result, waiting for the write.
func (r *Reconciler) Backfill(ctx context.Context, roomID string) (int, error) {
	docs, err := r.remote.FetchMessages(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("fetch messages: %w", err)
	}
	msgs := r.decodeMessages(roomID, docs)
	if err := r.store.UpsertMany(ctx, roomID, msgs); err != nil {
		return 0, err
	}
	if newest, ok := newestCreatedAt(msgs); ok {
		if err := r.store.SetCheckpoint(ctx, store.RoomCheckpointKey(roomID), strconv.FormatInt(newest.UnixNano(), 10)); err != nil {
			r.logger.Warn("checkpoint after backfill failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
	metrics.ReconciledMessages.Add(float64(len(msgs)))
	return len(msgs), nil
}

func (r *Reconciler) startRoomsLocked() *listener {
	sess := r.sess
	persist := r.persist
	first := true
	return startListener(r.ctx, r.logger,
		func(ctx context.Context) (Subscription, error) {
			return r.remote.WatchRooms(ctx, sess.UserID())
		},
		func(ctx context.Context, snap Snapshot) {
			r.reconcileRooms(ctx, sess, persist, snap)
			if first {
				first = false
				r.setState(status.Live)
			}
		},
		func(err error) { r.fail(&Failure{Listener: ListenerRooms, Err: err}) },
	)
}

func (r *Reconciler) startMessagesLocked(roomID string) *listener {
	newest, err := r.store.RoomCheckpoint(r.ctx, roomID)
	if err != nil {
		r.logger.Warn("read room checkpoint", zap.String("room_id", roomID), zap.Error(err))
	}
	return startListener(r.ctx, r.logger,
		func(ctx context.Context) (Subscription, error) {
			return r.remote.WatchMessages(ctx, roomID)
		},
		func(_ context.Context, snap Snapshot) {
			newest = r.reconcileMessages(roomID, snap, newest)
		},
		func(err error) { r.fail(&Failure{Listener: ListenerMessages, RoomID: roomID, Err: err}) },
	)
}

func (r *Reconciler) reconcileRooms(ctx context.Context, sess *session.Session, persist chan []model.RoomSummary, snap Snapshot) {
	summaries := make([]model.RoomSummary, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		room, issues, err := DecodeRoom(doc, sess.UserID())
		if err != nil {
			metrics.SkippedRecords.WithLabelValues("rooms").Inc()
			r.logger.Warn("skipping room", zap.String("room_id", doc.ID), zap.Error(err))
			continue
		}
		r.logIssues("room", doc.ID, issues)

		prof, err := sess.ProfileOrFetch(ctx, room.OtherID, r.fetchProfile)
		switch {
		case err == nil:
			room.Summary.OtherParticipant.DisplayName = prof.Username
			room.Summary.OtherParticipant.AvatarRef = prof.ProfileURL
		case errors.Is(err, session.ErrEnded), ctx.Err() != nil:
			return
		default:
			r.logger.Warn("profile lookup failed", zap.String("user_id", room.OtherID), zap.Error(err))
		}
		summaries = append(summaries, room.Summary)
	}

	// The remote query is already ordered; the stable sort only guards
	// against a feed that is not.
	slices.SortStableFunc(summaries, func(a, b model.RoomSummary) int {
		return b.LastMessageTimestamp.Compare(a.LastMessageTimestamp)
	})

	r.publish(summaries)
	metrics.ReconciledRooms.Add(float64(len(summaries)))

	// Latest wins: replace a snapshot the persister has not picked up yet.
	select {
	case <-persist:
	default:
	}
	select {
	case persist <- summaries:
	default:
	}
}

// fetchProfile treats a missing profile as an empty one, so it is memoized
// like any other and not requested again this session.
func (r *Reconciler) fetchProfile(ctx context.Context, userID string) (model.Profile, error) {
	p, err := r.remote.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		r.logger.Debug("participant has no profile", zap.String("user_id", userID))
		return model.Profile{UserID: userID}, nil
	}
	return p, err
}

func (r *Reconciler) reconcileMessages(roomID string, snap Snapshot, newest model.Timestamp) model.Timestamp {
	msgs := r.decodeMessages(roomID, snap.Docs)
	r.store.EnqueueUpsertMany(roomID, msgs)
	r.store.EnqueueDelete(snap.Removed)

	if n, ok := newestCreatedAt(msgs); ok && n.Compare(newest) > 0 {
		newest = n
		r.store.EnqueueCheckpoint(store.RoomCheckpointKey(roomID), strconv.FormatInt(n.UnixNano(), 10))
	}

	metrics.ReconciledMessages.Add(float64(len(msgs)))
	r.bus.Publish(bus.NewEvent(bus.KindSyncReconciled, Reconciled{
		RoomID:   roomID,
		Upserted: len(msgs),
		Deleted:  len(snap.Removed),
	}))
	return newest
}

func (r *Reconciler) decodeMessages(roomID string, docs []Document) []model.Message {
	msgs := make([]model.Message, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			metrics.SkippedRecords.WithLabelValues("messages").Inc()
			r.logger.Warn("skipping message without id", zap.String("room_id", roomID))
			continue
		}
		m, issues := Decode(roomID, doc, r.dec)
		r.logIssues("message", doc.ID, issues)
		msgs = append(msgs, m)
	}
	return msgs
}

func (r *Reconciler) logIssues(kind, id string, issues Issues) {
	if len(issues) == 0 {
		return
	}
	r.logger.Warn("degraded remote fields",
		zap.String("kind", kind),
		zap.String("id", id),
		zap.Strings("issues", issues))
}

func (r *Reconciler) publish(rooms []model.RoomSummary) {
	r.published.Store(&rooms)
	r.bus.Publish(bus.NewEvent(bus.KindRoomsPublished, rooms))
}

func (r *Reconciler) fail(f *Failure) {
	metrics.SyncFailures.WithLabelValues(f.Listener).Inc()
	r.logger.Error("sync listener failed", zap.String("listener", f.Listener), zap.String("room_id", f.RoomID), zap.Error(f.Err))
	r.setState(status.Failed)
	r.bus.Publish(bus.NewEvent(bus.KindSyncFailed, f))
}

func (r *Reconciler) setState(to status.State) {
	if r.status.Current() == to {
		return
	}
	if err := r.status.Transition(to); err != nil {
		r.logger.Debug("state transition skipped", zap.Error(err))
	}
}

func (r *Reconciler) persistLoop(ctx context.Context, in <-chan []model.RoomSummary, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case rooms := <-in:
			r.save(rooms)
		case <-ctx.Done():
			select {
			case rooms := <-in:
				r.save(rooms)
			default:
			}
			return
		}
	}
}

func (r *Reconciler) save(rooms []model.RoomSummary) {
	if err := r.rooms.Save(rooms); err != nil {
		r.logger.Warn("persist room snapshot failed", zap.Error(err))
	}
}

func newestCreatedAt(msgs []model.Message) (model.Timestamp, bool) {
	if len(msgs) == 0 {
		return model.Timestamp{}, false
	}
	m := slices.MaxFunc(msgs, func(a, b model.Message) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	return m.CreatedAt, true
}
