// Package cache implements the content-addressed audio cache backing
// the playback pipeline. Keys come from tts.GenerateKey; artifacts are
// stored on disk with a small in-memory LRU front.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrNotFound is returned when a key has no cached artifact.
var ErrNotFound = errors.New("cache: key not found")

// Artifact is a cached synthesized audio clip with its metadata.
type Artifact struct {
	Key        string        `json:"key"`
	Data       []byte        `json:"-"`
	VoiceID    string        `json:"voice_id"`
	Rate       float64       `json:"rate"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Duration   time.Duration `json:"duration"`
	SizeBytes  int64         `json:"size_bytes"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Config contains cache configuration.
type Config struct {
	Dir             string        // Disk cache directory
	DiskSizeLimit   int64         // Disk size limit in bytes
	MemSizeLimit    int64         // Memory size limit in bytes
	TTL             time.Duration // Disk entry time-to-live
	CleanupInterval time.Duration // Background eviction cadence
}

// DefaultConfig returns sensible defaults for the given directory.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		DiskSizeLimit:   1024 * 1024 * 1024,
		MemSizeLimit:    64 * 1024 * 1024,
		TTL:             7 * 24 * time.Hour,
		CleanupInterval: 15 * time.Minute,
	}
}

// AudioCache is a two-level (memory + disk) content-addressed store.
// Disk is ground truth: IsReady consults the disk index, so an entry
// evicted from memory but present on disk is still ready, and an entry
// evicted from disk is not ready no matter what memory says.
type AudioCache struct {
	mem     *memoryCache
	disk    *diskCache
	metrics *Metrics

	cleanupStop chan struct{}
	cleanupWg   sync.WaitGroup
	closeOnce   sync.Once
}

// New creates an audio cache rooted at cfg.Dir.
func New(cfg Config) (*AudioCache, error) {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 15 * time.Minute
	}
	disk, err := newDiskCache(cfg.Dir, cfg.DiskSizeLimit, cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("disk cache: %w", err)
	}
	c := &AudioCache{
		mem:         newMemoryCache(cfg.MemSizeLimit),
		disk:        disk,
		metrics:     &Metrics{},
		cleanupStop: make(chan struct{}),
	}
	c.cleanupWg.Add(1)
	go c.cleanupLoop(cfg.CleanupInterval)
	return c, nil
}

// IsReady reports whether a non-expired artifact exists for key. Never
// blocks on synthesis.
func (c *AudioCache) IsReady(key string) bool {
	return c.disk.contains(key)
}

// Fetch returns the artifact for key, or ErrNotFound.
func (c *AudioCache) Fetch(key string) (*Artifact, error) {
	c.metrics.access()
	if art, ok := c.mem.get(key); ok {
		// Memory can outlive a disk eviction; trust disk.
		if c.disk.contains(key) {
			c.metrics.hit()
			return art, nil
		}
		c.mem.delete(key)
	}
	art, err := c.disk.get(key)
	if err != nil {
		c.metrics.miss()
		return nil, err
	}
	c.mem.put(key, art)
	c.metrics.hit()
	return art, nil
}

// Store writes an artifact under key. Idempotent: re-storing an
// existing key refreshes its recency metadata and overwrites content,
// so concurrent duplicate synthesis cannot corrupt the cache (last
// write wins, both writes carry the same content-addressed key).
func (c *AudioCache) Store(key string, art *Artifact) error {
	art.Key = key
	art.SizeBytes = int64(len(art.Data))
	if art.CreatedAt.IsZero() {
		art.CreatedAt = time.Now()
	}
	if err := c.disk.put(key, art); err != nil {
		return err
	}
	c.mem.put(key, art)
	c.metrics.write()
	return nil
}

// Delete removes the artifact for key from both levels.
func (c *AudioCache) Delete(key string) error {
	c.mem.delete(key)
	return c.disk.delete(key)
}

// Clear removes every entry. Synchronous-complete: when it returns, no
// previously stored key is ready.
func (c *AudioCache) Clear() error {
	c.mem.clear()
	return c.disk.clear()
}

// Size returns the total size of cached artifacts on disk.
func (c *AudioCache) Size() int64 {
	return c.disk.size()
}

// Len returns the number of cached entries on disk.
func (c *AudioCache) Len() int {
	return c.disk.len()
}

// Metrics returns the cache's metrics counters.
func (c *AudioCache) Metrics() *Metrics {
	return c.metrics
}

// Close stops background eviction and flushes the disk index.
func (c *AudioCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.cleanupStop)
		c.cleanupWg.Wait()
		err = c.disk.close()
	})
	return err
}

func (c *AudioCache) cleanupLoop(interval time.Duration) {
	defer c.cleanupWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			evicted := c.disk.evict()
			c.mem.evictExpiredKeys(c.disk.contains)
			if evicted > 0 {
				log.Debug("cache: background eviction", "evicted", evicted, "size", c.disk.size())
				c.metrics.evictN(evicted)
			}
		case <-c.cleanupStop:
			return
		}
	}
}
