// Package roomcache persists the last published room list so the room index
// can be shown before the remote feed reconnects.
package roomcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
)

// Key is the file name of the snapshot blob inside the cache directory.
const Key = "room_index.json"

const snapshotVersion = 1

type snapshot struct {
	Version int                 `json:"version"`
	Rooms   []model.RoomSummary `json:"rooms"`
}

// Cache stores the whole room list as one blob. Every Save replaces it.
type Cache struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// New returns a cache rooted at dir, creating it if needed.
func New(dir string, logger *zap.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create room cache dir: %w", err)
	}
	return &Cache{dir: dir, logger: logger}, nil
}

func (c *Cache) path() string { return filepath.Join(c.dir, Key) }

// Save replaces the stored snapshot with rooms.
func (c *Cache) Save(rooms []model.RoomSummary) error {
	if rooms == nil {
		rooms = []model.RoomSummary{}
	}
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Rooms: rooms})
	if err != nil {
		return fmt.Errorf("encode room snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, "."+Key+"-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path()); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Load returns the stored room list. A missing or corrupt snapshot yields an
// empty list; only I/O failures are returned as errors.
func (c *Cache) Load() ([]model.RoomSummary, error) {
	c.mu.Lock()
	data, err := os.ReadFile(c.path())
	c.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return []model.RoomSummary{}, nil
	}
	if err != nil {
		return []model.RoomSummary{}, fmt.Errorf("read room snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("room snapshot corrupt, starting empty", zap.Error(err))
		return []model.RoomSummary{}, nil
	}
	if snap.Version != snapshotVersion {
		c.logger.Warn("room snapshot version mismatch, starting empty", zap.Int("version", snap.Version))
		return []model.RoomSummary{}, nil
	}
	if snap.Rooms == nil {
		snap.Rooms = []model.RoomSummary{}
	}
	return snap.Rooms, nil
}

// Clear removes the stored snapshot.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear room snapshot: %w", err)
	}
	return nil
}
