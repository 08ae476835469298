package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// compressMin is the smallest artifact worth compressing. PCM16 speech
// compresses well under zstd, but tiny clips aren't worth the overhead.
const compressMin = 1024

// diskCache persists artifacts as one audio file per key plus a JSON
// index of metadata. The index is the authority for existence checks.
// Audio data is zstd-compressed on disk; the size limit governs actual
// disk usage, not the uncompressed artifact sizes.
type diskCache struct {
	mu        sync.RWMutex
	dir       string
	sizeLimit int64
	ttl       time.Duration
	total     int64
	index     map[string]*diskEntry
	indexFile string

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

type diskEntry struct {
	Key        string        `json:"key"`
	VoiceID    string        `json:"voice_id"`
	Rate       float64       `json:"rate"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Duration   time.Duration `json:"duration"`
	SizeBytes  int64         `json:"size_bytes"`
	CreatedAt  time.Time     `json:"created_at"`
	LastAccess time.Time     `json:"last_access"`
	AudioFile  string        `json:"audio_file"`

	StoredBytes int64 `json:"stored_bytes,omitempty"`
	Compressed  bool  `json:"compressed,omitempty"`
}

// stored returns the entry's on-disk size. Entries written before
// compression existed carry no StoredBytes and were stored verbatim.
func (e *diskEntry) stored() int64 {
	if e.StoredBytes > 0 {
		return e.StoredBytes
	}
	return e.SizeBytes
}

func newDiskCache(dir string, sizeLimit int64, ttl time.Duration) (*diskCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	dc := &diskCache{
		dir:       dir,
		sizeLimit: sizeLimit,
		ttl:       ttl,
		index:     make(map[string]*diskEntry),
		indexFile: filepath.Join(dir, "index.json"),
		encoder:   encoder,
		decoder:   decoder,
	}
	if err := dc.loadIndex(); err != nil {
		// Missing or corrupt index: start fresh, files without index
		// entries are unreachable and get overwritten on re-store.
		dc.index = make(map[string]*diskEntry)
	}
	for _, e := range dc.index {
		dc.total += e.stored()
	}
	return dc, nil
}

func (dc *diskCache) contains(key string) bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	e, ok := dc.index[key]
	if !ok {
		return false
	}
	return dc.ttl <= 0 || time.Since(e.CreatedAt) <= dc.ttl
}

func (dc *diskCache) get(key string) (*Artifact, error) {
	dc.mu.Lock()
	e, ok := dc.index[key]
	if !ok || (dc.ttl > 0 && time.Since(e.CreatedAt) > dc.ttl) {
		dc.mu.Unlock()
		return nil, ErrNotFound
	}
	e.LastAccess = time.Now()
	path := filepath.Join(dc.dir, e.AudioFile)
	meta := *e
	dc.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		// Index said yes but the file is gone; heal the index.
		dc.dropEntry(key)
		return nil, ErrNotFound
	}
	if meta.Compressed {
		data, err = dc.decoder.DecodeAll(data, nil)
		if err != nil {
			// Corrupt on disk; evict rather than serve garbage.
			_ = os.Remove(path)
			dc.dropEntry(key)
			return nil, ErrNotFound
		}
	}
	return &Artifact{
		Key:        meta.Key,
		Data:       data,
		VoiceID:    meta.VoiceID,
		Rate:       meta.Rate,
		SampleRate: meta.SampleRate,
		Channels:   meta.Channels,
		Duration:   meta.Duration,
		SizeBytes:  meta.SizeBytes,
		CreatedAt:  meta.CreatedAt,
	}, nil
}

func (dc *diskCache) put(key string, art *Artifact) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	// Compress unless the clip is tiny or incompressible.
	data := art.Data
	compressed := false
	if len(art.Data) > compressMin {
		if enc := dc.encoder.EncodeAll(art.Data, nil); len(enc) < len(art.Data) {
			data = enc
			compressed = true
		}
	}

	audioFile := key + ".pcm"
	if err := os.WriteFile(filepath.Join(dc.dir, audioFile), data, 0o600); err != nil {
		return fmt.Errorf("write audio file: %w", err)
	}

	now := time.Now()
	if old, ok := dc.index[key]; ok {
		dc.total -= old.stored()
	}
	entry := &diskEntry{
		Key:         key,
		VoiceID:     art.VoiceID,
		Rate:        art.Rate,
		SampleRate:  art.SampleRate,
		Channels:    art.Channels,
		Duration:    art.Duration,
		SizeBytes:   art.SizeBytes,
		CreatedAt:   art.CreatedAt,
		LastAccess:  now,
		AudioFile:   audioFile,
		StoredBytes: int64(len(data)),
		Compressed:  compressed,
	}
	dc.index[key] = entry
	dc.total += entry.stored()
	return dc.saveIndexLocked()
}

func (dc *diskCache) delete(key string) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	e, ok := dc.index[key]
	if !ok {
		return nil
	}
	_ = os.Remove(filepath.Join(dc.dir, e.AudioFile))
	delete(dc.index, key)
	dc.total -= e.stored()
	return dc.saveIndexLocked()
}

// dropEntry removes a key from the index after its file proved
// unreadable.
func (dc *diskCache) dropEntry(key string) {
	dc.mu.Lock()
	if cur, ok := dc.index[key]; ok {
		dc.total -= cur.stored()
		delete(dc.index, key)
	}
	dc.mu.Unlock()
}

func (dc *diskCache) clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	for _, e := range dc.index {
		_ = os.Remove(filepath.Join(dc.dir, e.AudioFile))
	}
	dc.index = make(map[string]*diskEntry)
	dc.total = 0
	return dc.saveIndexLocked()
}

func (dc *diskCache) size() int64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.total
}

func (dc *diskCache) len() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return len(dc.index)
}

// evict removes expired entries, then least-recently-accessed entries
// until usage drops to 90% of the limit. Returns the eviction count.
func (dc *diskCache) evict() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	evicted := 0
	now := time.Now()
	if dc.ttl > 0 {
		for key, e := range dc.index {
			if now.Sub(e.CreatedAt) > dc.ttl {
				dc.removeLocked(key)
				evicted++
			}
		}
	}

	if dc.sizeLimit > 0 {
		for dc.total > dc.sizeLimit*9/10 && len(dc.index) > 0 {
			oldest := ""
			var oldestAccess time.Time
			for key, e := range dc.index {
				if oldest == "" || e.LastAccess.Before(oldestAccess) {
					oldest = key
					oldestAccess = e.LastAccess
				}
			}
			dc.removeLocked(oldest)
			evicted++
		}
	}

	if evicted > 0 {
		_ = dc.saveIndexLocked()
	}
	return evicted
}

// removeLocked must be called with the lock held.
func (dc *diskCache) removeLocked(key string) {
	e := dc.index[key]
	_ = os.Remove(filepath.Join(dc.dir, e.AudioFile))
	delete(dc.index, key)
	dc.total -= e.stored()
}

func (dc *diskCache) close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.saveIndexLocked()
}

func (dc *diskCache) loadIndex() error {
	data, err := os.ReadFile(dc.indexFile)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &dc.index)
}

// saveIndexLocked must be called with the lock held.
func (dc *diskCache) saveIndexLocked() error {
	data, err := json.MarshalIndent(dc.index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(dc.indexFile, data, 0o600)
}
