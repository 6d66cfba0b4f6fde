package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
)

// SetCheckpoint records a sync checkpoint through the writer.
func (s *Store) SetCheckpoint(ctx context.Context, key, value string) error {
	return s.submit(ctx, "checkpoint", func(tx *sql.Tx) ([]Change, error) {
		return nil, setCheckpointTx(tx, key, value)
	})
}

// EnqueueCheckpoint is the fire-and-forget form of SetCheckpoint. Queued
// after the upsert it describes, it commits only once that upsert has.
func (s *Store) EnqueueCheckpoint(key, value string) {
	s.enqueue("checkpoint", func(tx *sql.Tx) ([]Change, error) {
		return nil, setCheckpointTx(tx, key, value)
	})
}

func setCheckpointTx(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Checkpoint returns the value stored under key, or "" if none.
func (s *Store) Checkpoint(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// RoomCheckpoint returns the newest reconciled createdAt for roomID, or the
// zero timestamp when the room has never been reconciled.
func (s *Store) RoomCheckpoint(ctx context.Context, roomID string) (model.Timestamp, error) {
	v, err := s.Checkpoint(ctx, RoomCheckpointKey(roomID))
	if err != nil || v == "" {
		return model.Timestamp{}, err
	}
	ns, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		s.logger.Warn("malformed room checkpoint, ignoring",
			zap.String("room_id", roomID), zap.String("value", v))
		return model.Timestamp{}, nil
	}
	return model.TimestampFromUnixNano(ns), nil
}
