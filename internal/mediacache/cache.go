// Package mediacache keeps downloaded media in a bounded, flat on-disk cache
// keyed by a hash of the remote URL.
package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/master-rogerio/VCZapO-sub001/internal/config"
	"github.com/master-rogerio/VCZapO-sub001/internal/metrics"
)

// tmpPrefix marks in-flight downloads. Keys are hex so they never collide.
const tmpPrefix = ".fetch-"

// Handle is the result of Resolve: a local file when the asset is cached,
// otherwise the original URL.
type Handle struct {
	url  string
	path string
}

// Local reports whether the handle points at a cached file.
func (h Handle) Local() bool { return h.path != "" }

// Path returns the cached file path, or "" for a fallback handle.
func (h Handle) Path() string { return h.path }

// URL returns the remote URL the handle was resolved from.
func (h Handle) URL() string { return h.url }

// String yields the local path when cached and the original URL otherwise.
func (h Handle) String() string {
	if h.path != "" {
		return h.path
	}
	return h.url
}

// Entry describes one cached file.
type Entry struct {
	Key            string
	Path           string
	SizeBytes      int64
	LastAccessTime time.Time
}

// Options configures a Cache.
type Options struct {
	Dir          string
	MaxBytes     int64
	FetchTimeout time.Duration
	// FetchRate limits downloads per second. Zero disables the limit.
	FetchRate float64
	Fetcher   Fetcher
	Logger    *zap.Logger
}

// Cache is safe for concurrent use. Concurrent misses on the same URL may
// download twice; each publish is an atomic rename so readers never see a
// partial file.
type Cache struct {
	dir      string
	maxBytes int64
	timeout  time.Duration
	fetcher  Fetcher
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time
}

// New creates the cache directory and removes downloads left over from a
// previous process.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("mediacache: dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	c := &Cache{
		dir:      opts.Dir,
		maxBytes: opts.MaxBytes,
		timeout:  opts.FetchTimeout,
		fetcher:  opts.Fetcher,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if c.maxBytes <= 0 {
		c.maxBytes = config.DefaultMediaMaxBytes
	}
	if c.timeout <= 0 {
		c.timeout = config.DefaultFetchTimeout
	}
	if c.fetcher == nil {
		c.fetcher = &HTTPFetcher{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if opts.FetchRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.FetchRate), 1)
	}
	c.sweepTemp()
	return c, nil
}

// Key returns the cache filename for url.
func Key(url string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(url))
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Resolve returns a handle for url, downloading it on a miss. Failures never
// surface as errors: the handle falls back to the remote URL.
func (c *Cache) Resolve(ctx context.Context, url string) Handle {
	if url == "" {
		return Handle{}
	}
	key := Key(url)
	path := filepath.Join(c.dir, key)

	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
		now := c.now()
		if err := os.Chtimes(path, now, now); err != nil {
			c.logger.Debug("touch cached media", zap.String("key", key), zap.Error(err))
		}
		metrics.MediaCacheHits.Inc()
		return Handle{url: url, path: path}
	}
	metrics.MediaCacheMisses.Inc()

	if err := c.fetch(ctx, url, path); err != nil {
		metrics.MediaFetchFailures.Inc()
		c.logger.Warn("media fetch failed, using remote url",
			zap.String("key", key),
			zap.String("url", url),
			zap.Error(err))
		return Handle{url: url}
	}

	c.evict(key)
	return Handle{url: url, path: path}
}

func (c *Cache) fetch(ctx context.Context, url, dest string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	body, err := c.fetcher.Open(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	tmp, err := os.CreateTemp(c.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Entries lists the completed cache entries.
func (c *Cache) Entries() ([]Entry, error) {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read media dir: %w", err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), tmpPrefix) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, Entry{
			Key:            d.Name(),
			Path:           filepath.Join(c.dir, d.Name()),
			SizeBytes:      info.Size(),
			LastAccessTime: info.ModTime(),
		})
	}
	return entries, nil
}

// Size returns the total bytes held by completed entries.
func (c *Cache) Size() (int64, error) {
	entries, err := c.Entries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	return total, nil
}

// Clear removes every entry. Per-file failures are logged and skipped; the
// first one is returned.
func (c *Cache) Clear() error {
	entries, err := c.Entries()
	if err != nil {
		return err
	}
	var first error
	for _, e := range entries {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("remove cached media", zap.String("key", e.Key), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	metrics.MediaCacheBytes.Set(0)
	return first
}

func (c *Cache) sweepTemp() {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, d := range dirents {
		if strings.HasPrefix(d.Name(), tmpPrefix) {
			_ = os.Remove(filepath.Join(c.dir, d.Name()))
		}
	}
}
