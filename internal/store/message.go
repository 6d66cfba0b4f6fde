package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
)

const upsertSQL = `
	INSERT INTO messages (id, room_id, sender_id, sender_name, content, created_at, type,
		media_ref, duration_ms, lat_long, read, delivered, reactions, reply_to_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		room_id = excluded.room_id,
		sender_id = excluded.sender_id,
		sender_name = excluded.sender_name,
		content = excluded.content,
		created_at = excluded.created_at,
		type = excluded.type,
		media_ref = excluded.media_ref,
		duration_ms = excluded.duration_ms,
		lat_long = excluded.lat_long,
		read = excluded.read,
		delivered = excluded.delivered,
		reactions = excluded.reactions,
		reply_to_id = excluded.reply_to_id`

const selectColumns = `id, room_id, sender_id, sender_name, content, created_at, type,
	media_ref, duration_ms, lat_long, read, delivered, reactions, reply_to_id`

func upsertTx(tx *sql.Tx, roomID string, msgs []model.Message) (Change, error) {
	stmt, err := tx.Prepare(upsertSQL)
	if err != nil {
		return Change{}, fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			return Change{}, errors.New("upsert: message without id")
		}
		typ := m.Type
		if typ == "" {
			typ = model.TypeText
		}
		latLong := ""
		if m.LatLong != nil {
			latLong = m.LatLong.String()
		}
		if _, err := stmt.Exec(m.ID, roomID, m.SenderID, m.SenderName, m.Content,
			m.CreatedAt.UnixNano(), string(typ), m.MediaRef, m.DurationMs, latLong,
			m.Read, m.Delivered, model.EncodeReactions(m.Reactions), m.ReplyToID); err != nil {
			return Change{}, fmt.Errorf("upsert %s: %w", m.ID, err)
		}
		ids = append(ids, m.ID)
	}
	return Change{Op: OpUpsert, RoomID: roomID, IDs: ids}, nil
}

// UpsertMany replaces or inserts msgs into roomID in one transaction. Every
// message is stored under roomID regardless of its RoomID field. Upserting
// the same message twice leaves one row holding the last write.
func (s *Store) UpsertMany(ctx context.Context, roomID string, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.submit(ctx, OpUpsert, func(tx *sql.Tx) ([]Change, error) {
		c, err := upsertTx(tx, roomID, msgs)
		if err != nil {
			return nil, err
		}
		return []Change{c}, nil
	})
}

// UpsertOne replaces or inserts a single message.
func (s *Store) UpsertOne(ctx context.Context, msg model.Message) error {
	return s.UpsertMany(ctx, msg.RoomID, []model.Message{msg})
}

// EnqueueUpsertMany is the fire-and-forget form of UpsertMany used by the
// sync listeners.
func (s *Store) EnqueueUpsertMany(roomID string, msgs []model.Message) {
	if len(msgs) == 0 {
		return
	}
	s.enqueue(OpUpsert, func(tx *sql.Tx) ([]Change, error) {
		c, err := upsertTx(tx, roomID, msgs)
		if err != nil {
			return nil, err
		}
		return []Change{c}, nil
	})
}

func roomOf(tx *sql.Tx, id string) (string, error) {
	var roomID string
	err := tx.QueryRow(`SELECT room_id FROM messages WHERE id = ?`, id).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return roomID, err
}

func (s *Store) patch(ctx context.Context, op, id, query string, arg any) error {
	return s.submit(ctx, op, func(tx *sql.Tx) ([]Change, error) {
		roomID, err := roomOf(tx, id)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(query, arg, id); err != nil {
			return nil, fmt.Errorf("%s %s: %w", op, id, err)
		}
		return []Change{{Op: op, RoomID: roomID, IDs: []string{id}}}, nil
	})
}

// SetRead updates only the read flag of message id.
func (s *Store) SetRead(ctx context.Context, id string, read bool) error {
	return s.patch(ctx, OpSetRead, id, `UPDATE messages SET read = ? WHERE id = ?`, read)
}

// SetDelivered marks message id as acknowledged by the backend and leaves
// every other column alone.
func (s *Store) SetDelivered(ctx context.Context, id string) error {
	return s.patch(ctx, OpSetDelivered, id, `UPDATE messages SET delivered = ? WHERE id = ?`, true)
}

// EditContent updates only the content of message id.
func (s *Store) EditContent(ctx context.Context, id, content string) error {
	return s.patch(ctx, OpEdit, id, `UPDATE messages SET content = ? WHERE id = ?`, content)
}

// MarkRoomRead sets read on every unread message in roomID not sent by
// readerID.
func (s *Store) MarkRoomRead(ctx context.Context, roomID, readerID string) error {
	return s.submit(ctx, OpSetRead, func(tx *sql.Tx) ([]Change, error) {
		rows, err := tx.Query(`SELECT id FROM messages WHERE room_id = ? AND read = 0 AND sender_id != ?`, roomID, readerID)
		if err != nil {
			return nil, fmt.Errorf("list unread: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		if _, err := tx.Exec(`UPDATE messages SET read = 1 WHERE room_id = ? AND read = 0 AND sender_id != ?`, roomID, readerID); err != nil {
			return nil, fmt.Errorf("mark room read: %w", err)
		}
		return []Change{{Op: OpSetRead, RoomID: roomID, IDs: ids}}, nil
	})
}

func deleteTx(tx *sql.Tx, ids []string) ([]Change, error) {
	byRoom := make(map[string][]string)
	var order []string
	for _, id := range ids {
		roomID, err := roomOf(tx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("delete %s: %w", id, err)
		}
		if _, ok := byRoom[roomID]; !ok {
			order = append(order, roomID)
		}
		byRoom[roomID] = append(byRoom[roomID], id)
	}
	changes := make([]Change, 0, len(order))
	for _, roomID := range order {
		changes = append(changes, Change{Op: OpDelete, RoomID: roomID, IDs: byRoom[roomID]})
	}
	return changes, nil
}

// Delete removes message id. Deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.submit(ctx, OpDelete, func(tx *sql.Tx) ([]Change, error) {
		return deleteTx(tx, []string{id})
	})
}

// EnqueueDelete is the fire-and-forget form of Delete for remote removals.
func (s *Store) EnqueueDelete(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.enqueue(OpDelete, func(tx *sql.Tx) ([]Change, error) {
		return deleteTx(tx, ids)
	})
}

// ClearAll deletes every message and checkpoint. Used on logout.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.submit(ctx, OpClearAll, func(tx *sql.Tx) ([]Change, error) {
		rows, err := tx.Query(`SELECT DISTINCT room_id FROM messages`)
		if err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}
		var changes []Change
		for rows.Next() {
			var roomID string
			if err := rows.Scan(&roomID); err != nil {
				_ = rows.Close()
				return nil, err
			}
			changes = append(changes, Change{Op: OpClearAll, RoomID: roomID})
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
			return nil, fmt.Errorf("clear messages: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM sync_state`); err != nil {
			return nil, fmt.Errorf("clear sync state: %w", err)
		}
		return append(changes, Change{Op: OpClearAll}), nil
	})
}

// Get returns message id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.scanMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// ListRoom returns the messages of roomID newest first; ties keep the most
// recently inserted first. limit <= 0 returns every message.
func (s *Store) ListRoom(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	q := `SELECT ` + selectColumns + ` FROM messages WHERE room_id = ?
		ORDER BY created_at DESC, rowid DESC`
	args := []any{roomID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows)
}

// ListBefore pages backwards through roomID from before (exclusive).
func (s *Store) ListBefore(ctx context.Context, roomID string, before model.Timestamp, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if before.IsZero() {
		return s.ListRoom(ctx, roomID, limit)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM messages
		WHERE room_id = ? AND created_at < ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, roomID, before.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows)
}

// ListNewSince returns the messages of roomID created strictly after since,
// newest first.
func (s *Store) ListNewSince(ctx context.Context, roomID string, since model.Timestamp) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM messages
		WHERE room_id = ? AND created_at > ?
		ORDER BY created_at DESC, rowid DESC`, roomID, since.UnixNano())
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows)
}

// scanMessages reads and closes rows. Malformed lat_long and reactions
// columns degrade to nil and an empty map.
func (s *Store) scanMessages(rows *sql.Rows) ([]model.Message, error) {
	defer func() { _ = rows.Close() }()

	msgs := []model.Message{}
	for rows.Next() {
		var (
			m                       model.Message
			createdAt               int64
			typ, latLong, reactions string
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Content,
			&createdAt, &typ, &m.MediaRef, &m.DurationMs, &latLong,
			&m.Read, &m.Delivered, &reactions, &m.ReplyToID); err != nil {
			return nil, err
		}
		m.CreatedAt = model.TimestampFromUnixNano(createdAt)

		t, ok := model.ParseMessageType(typ)
		if !ok {
			s.logger.Warn("unknown message type, treating as text",
				zap.String("message_id", m.ID), zap.String("type", typ))
		}
		m.Type = t

		if latLong != "" {
			ll, err := model.ParseLatLong(latLong)
			if err != nil {
				s.logger.Warn("malformed lat_long, dropping",
					zap.String("message_id", m.ID), zap.Error(err))
			}
			m.LatLong = ll
		}

		r, err := model.DecodeReactions(reactions)
		if err != nil {
			s.logger.Warn("malformed reactions, dropping",
				zap.String("message_id", m.ID), zap.Error(err))
			r = map[string]string{}
		}
		m.Reactions = r

		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
