package mediacache

import (
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/metrics"
)

// evict deletes least recently used entries until the cache fits under
// maxBytes. keep is the entry just written and is never a candidate, even if
// it alone exceeds the ceiling.
func (c *Cache) evict(keep string) {
	entries, err := c.Entries()
	if err != nil {
		c.logger.Warn("eviction sweep skipped", zap.Error(err))
		return
	}

	var total int64
	candidates := entries[:0:0]
	for _, e := range entries {
		total += e.SizeBytes
		if e.Key != keep {
			candidates = append(candidates, e)
		}
	}
	if total <= c.maxBytes {
		metrics.MediaCacheBytes.Set(float64(total))
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.LastAccessTime.Equal(b.LastAccessTime) {
			return a.LastAccessTime.Before(b.LastAccessTime)
		}
		return a.Key < b.Key
	})

	for _, e := range candidates {
		if total <= c.maxBytes {
			break
		}
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("evict cached media", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		total -= e.SizeBytes
		metrics.MediaEvictions.Inc()
	}
	metrics.MediaCacheBytes.Set(float64(total))
	c.logger.Debug("eviction sweep", zap.Int64("bytes", total), zap.Int64("max_bytes", c.maxBytes))
}
