package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(dir string) Config {
	return Config{
		Dir:             dir,
		DiskSizeLimit:   1024 * 1024,
		MemSizeLimit:    64 * 1024,
		TTL:             time.Hour,
		CleanupInterval: time.Hour,
	}
}

func newTestCache(t *testing.T, cfg Config) *AudioCache {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testArtifact(data []byte) *Artifact {
	return &Artifact{
		Data:       data,
		VoiceID:    "st-f1",
		Rate:       1.0,
		SampleRate: 44100,
		Channels:   1,
		Duration:   time.Duration(len(data)/2) * time.Second / 44100,
	}
}

func TestCacheStoreAndFetch(t *testing.T) {
	c := newTestCache(t, testConfig(t.TempDir()))

	if c.IsReady("v1_abc") {
		t.Error("Expected key not ready before store")
	}
	if _, err := c.Fetch("v1_abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	data := []byte{1, 2, 3, 4}
	if err := c.Store("v1_abc", testArtifact(data)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !c.IsReady("v1_abc") {
		t.Error("Expected key ready after store")
	}

	art, err := c.Fetch("v1_abc")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(art.Data) != string(data) {
		t.Errorf("Expected data %v, got %v", data, art.Data)
	}
	if art.SizeBytes != int64(len(data)) {
		t.Errorf("Expected size %d, got %d", len(data), art.SizeBytes)
	}
	if art.VoiceID != "st-f1" || art.Rate != 1.0 {
		t.Errorf("Expected metadata preserved, got %+v", art)
	}
}

func TestCacheSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := New(testConfig(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Store("v1_abc", testArtifact([]byte{9, 9})); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := newTestCache(t, testConfig(dir))
	if !reopened.IsReady("v1_abc") {
		t.Error("Expected entry to survive reopen")
	}
	art, err := reopened.Fetch("v1_abc")
	if err != nil {
		t.Fatalf("Fetch after reopen: %v", err)
	}
	if string(art.Data) != string([]byte{9, 9}) {
		t.Errorf("Expected persisted data, got %v", art.Data)
	}
}

func TestCacheStoreIdempotent(t *testing.T) {
	c := newTestCache(t, testConfig(t.TempDir()))
	if err := c.Store("v1_abc", testArtifact([]byte{1})); err != nil {
		t.Fatal(err)
	}
	if err := c.Store("v1_abc", testArtifact([]byte{1})); err != nil {
		t.Fatalf("Expected re-store to succeed, got %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t, testConfig(t.TempDir()))
	if err := c.Store("v1_abc", testArtifact([]byte{1})); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete("v1_abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if c.IsReady("v1_abc") {
		t.Error("Expected key gone after delete")
	}
}

func TestCacheClearIsSynchronous(t *testing.T) {
	c := newTestCache(t, testConfig(t.TempDir()))
	keys := []string{"v1_a", "v1_b", "v1_c"}
	for _, k := range keys {
		if err := c.Store(k, testArtifact([]byte{1, 2})); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, k := range keys {
		if c.IsReady(k) {
			t.Errorf("Expected %s not ready immediately after clear", k)
		}
		if _, err := c.Fetch(k); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound for %s after clear, got %v", k, err)
		}
	}
	if c.Len() != 0 || c.Size() != 0 {
		t.Errorf("Expected empty cache, got %d entries, %d bytes", c.Len(), c.Size())
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.TTL = 10 * time.Millisecond
	c := newTestCache(t, cfg)

	if err := c.Store("v1_abc", testArtifact([]byte{1})); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	if c.IsReady("v1_abc") {
		t.Error("Expected expired entry to be not ready")
	}
	if _, err := c.Fetch("v1_abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for expired entry, got %v", err)
	}
}

func TestCacheMemoryNeverResurrectsDiskEviction(t *testing.T) {
	c := newTestCache(t, testConfig(t.TempDir()))
	if err := c.Store("v1_abc", testArtifact([]byte{1, 2, 3})); err != nil {
		t.Fatal(err)
	}

	// Remove from disk only; the memory front still holds the entry.
	if err := c.disk.delete("v1_abc"); err != nil {
		t.Fatal(err)
	}
	if c.IsReady("v1_abc") {
		t.Error("Expected disk to be ground truth for readiness")
	}
	if _, err := c.Fetch("v1_abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected memory hit to be invalidated by disk, got %v", err)
	}
}

func TestCacheDiskEvictionUnderPressure(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.DiskSizeLimit = 1024
	c := newTestCache(t, cfg)

	big := make([]byte, 400)
	for _, k := range []string{"v1_a", "v1_b", "v1_c", "v1_d"} {
		if err := c.Store(k, testArtifact(big)); err != nil {
			t.Fatal(err)
		}
	}
	evicted := c.disk.evict()
	if evicted == 0 {
		t.Error("Expected eviction above the size limit")
	}
	if c.Size() > cfg.DiskSizeLimit {
		t.Errorf("Expected size under limit after evict, got %d", c.Size())
	}
	// Most recently used entry survives.
	if !c.IsReady("v1_d") {
		t.Error("Expected most recent entry to survive eviction")
	}
}

func TestCacheCompressesOnDisk(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, testConfig(dir))

	// Silence-heavy PCM, well above the compression threshold.
	data := make([]byte, 8192)
	if err := c.Store("v1_abc", testArtifact(data)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	onDisk, err := os.ReadFile(filepath.Join(dir, "v1_abc.pcm"))
	if err != nil {
		t.Fatalf("read audio file: %v", err)
	}
	if len(onDisk) >= len(data) {
		t.Errorf("Expected compressed file smaller than %d bytes, got %d", len(data), len(onDisk))
	}
	if c.Size() != int64(len(onDisk)) {
		t.Errorf("Expected size accounting to track disk bytes %d, got %d", len(onDisk), c.Size())
	}

	// Drop the memory front so Fetch decompresses from disk.
	c.mem.delete("v1_abc")
	art, err := c.Fetch("v1_abc")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(art.Data, data) {
		t.Error("Expected decompressed data to match the original")
	}
	if art.SizeBytes != int64(len(data)) {
		t.Errorf("Expected metadata size %d, got %d", len(data), art.SizeBytes)
	}
}

func TestCacheSmallArtifactsStoredVerbatim(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, testConfig(dir))

	data := []byte{1, 2, 3, 4}
	if err := c.Store("v1_abc", testArtifact(data)); err != nil {
		t.Fatal(err)
	}
	onDisk, err := os.ReadFile(filepath.Join(dir, "v1_abc.pcm"))
	if err != nil {
		t.Fatalf("read audio file: %v", err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Errorf("Expected clips under the threshold stored verbatim, got %v", onDisk)
	}
}

func TestCacheReadsUncompressedLegacyEntries(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, testConfig(dir))

	// Entries written before compression carry no StoredBytes and no
	// Compressed flag; the raw bytes must stay readable.
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(filepath.Join(dir, "v1_old.pcm"), data, 0o600); err != nil {
		t.Fatal(err)
	}
	c.disk.mu.Lock()
	c.disk.index["v1_old"] = &diskEntry{
		Key:        "v1_old",
		SizeBytes:  int64(len(data)),
		CreatedAt:  time.Now(),
		LastAccess: time.Now(),
		AudioFile:  "v1_old.pcm",
	}
	c.disk.total += int64(len(data))
	c.disk.mu.Unlock()

	art, err := c.Fetch("v1_old")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(art.Data, data) {
		t.Error("Expected legacy entry readable without decompression")
	}
}

func TestCacheMetrics(t *testing.T) {
	c := newTestCache(t, testConfig(t.TempDir()))
	if err := c.Store("v1_abc", testArtifact([]byte{1})); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fetch("v1_abc"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fetch("v1_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatal(err)
	}

	m := c.Metrics()
	if m.Writes() != 1 {
		t.Errorf("Expected 1 write, got %d", m.Writes())
	}
	if m.Hits() != 1 {
		t.Errorf("Expected 1 hit, got %d", m.Hits())
	}
	if m.Misses() != 1 {
		t.Errorf("Expected 1 miss, got %d", m.Misses())
	}
	if m.HitRate() != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %.2f", m.HitRate())
	}
}
