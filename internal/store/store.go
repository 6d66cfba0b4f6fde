package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/bus"
	"github.com/master-rogerio/VCZapO-sub001/internal/metrics"
)

// writeQueueSize bounds queued writes before enqueuers block.
const writeQueueSize = 256

// txFunc runs inside the writer's transaction and returns the changes to
// publish once it commits.
type txFunc func(tx *sql.Tx) ([]Change, error)

type writeOp struct {
	name string
	fn   txFunc
	done chan error // nil for fire-and-forget writes
}

// Store owns messages.db. All writes go through one goroutine and are applied
// in submission order; reads query the database directly.
type Store struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger

	ops  chan writeOp
	quit chan struct{}
	done chan struct{}

	// closeMu orders sends on ops against Stop; closed flips under the write
	// lock so no op is queued once the writer may have drained.
	closeMu sync.RWMutex
	closed  bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a store over a migrated database. Call Start before writing.
func New(db *DB, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		bus:    b,
		logger: logger,
		ops:    make(chan writeOp, writeQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// DB returns the underlying connection.
func (s *Store) DB() *DB { return s.db }

// Start launches the writer goroutine.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop applies the writes already queued, then stops the writer. Later
// writes fail with ErrClosed.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()
		close(s.quit)
	})
	s.startOnce.Do(func() { close(s.done) })
	<-s.done
	for {
		select {
		case op := <-s.ops:
			if op.done != nil {
				op.done <- ErrClosed
			}
		default:
			return
		}
	}
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			s.apply(op)
		case <-s.quit:
			for {
				select {
				case op := <-s.ops:
					s.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) apply(op writeOp) {
	start := time.Now()
	changes, err := s.inTx(op.fn)
	metrics.StoreWriteLatency.WithLabelValues(op.name).Observe(time.Since(start).Seconds())

	if err != nil {
		if op.done == nil {
			s.logger.Error("store write failed", zap.String("op", op.name), zap.Error(err))
		}
	} else {
		for _, c := range changes {
			s.publish(c)
		}
	}
	if op.done != nil {
		op.done <- err
	}
}

func (s *Store) inTx(fn txFunc) ([]Change, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	changes, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return changes, nil
}

func (s *Store) publish(c Change) {
	if c.Op == OpClearAll && c.RoomID == "" {
		s.bus.Publish(bus.NewEvent(bus.KindStoreCleared, c))
		return
	}
	s.bus.Publish(bus.NewEvent(bus.StoreRoomKind(c.RoomID), c))
}

// submit queues a write and waits for it to commit.
func (s *Store) submit(ctx context.Context, name string, fn txFunc) error {
	op := writeOp{name: name, fn: fn, done: make(chan error, 1)}
	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return ErrClosed
	}
	select {
	case s.ops <- op:
	case <-ctx.Done():
		s.closeMu.RUnlock()
		return ctx.Err()
	}
	s.closeMu.RUnlock()
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue queues a write without waiting. Failures are logged by the writer.
func (s *Store) enqueue(name string, fn txFunc) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.logger.Warn("store write dropped after stop", zap.String("op", name))
		return
	}
	s.ops <- writeOp{name: name, fn: fn}
}
