package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the pipeline configuration.
type Config struct {
	// Engine and voice selection
	Engine string // Engine identifier ("supertonic", "mock")
	Voice  string // Default voice ID

	// Playback
	PlaybackRate     float64       // Initial playback rate
	Lookahead        int           // Segments to synthesize ahead of position
	Workers          int           // Concurrent synthesis workers
	SynthesisTimeout time.Duration // Per-segment synthesis deadline
	VerifyEvery      int           // Segment advances between cache re-verification

	// Cache
	CacheDir       string        // Disk cache directory
	CacheSizeLimit int64         // Disk cache size limit in bytes
	CacheTTL       time.Duration // Disk cache entry time-to-live
	MemCacheLimit  int64         // In-memory cache size limit in bytes

	// Downloads
	DownloadDir         string // Directory for core/voice artifacts
	DownloadConcurrency int    // Parallel core downloads
	// WiFiOnlyDownloads gates downloads on WiFi connectivity. Desktop
	// has no metered-network signal, so the CLI wires an always-WiFi
	// probe and the setting only takes effect in embeddings that
	// supply a real download.Connectivity.
	WiFiOnlyDownloads bool

	// Progress persistence
	ProgressPath     string        // bbolt database path
	AutosaveInterval time.Duration // Progress autosave cadence
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	dataDir := defaultDataDir()
	return Config{
		Engine:              "supertonic",
		Voice:               "",
		PlaybackRate:        1.0,
		Lookahead:           3,
		Workers:             2,
		SynthesisTimeout:    30 * time.Second,
		VerifyEvery:         5,
		CacheDir:            filepath.Join(dataDir, "audio-cache"),
		CacheSizeLimit:      1024 * 1024 * 1024, // 1GB
		CacheTTL:            7 * 24 * time.Hour,
		MemCacheLimit:       64 * 1024 * 1024, // 64MB
		DownloadDir:         filepath.Join(dataDir, "models"),
		DownloadConcurrency: 2,
		WiFiOnlyDownloads:   false,
		ProgressPath:        filepath.Join(dataDir, "progress.db"),
		AutosaveInterval:    30 * time.Second,
	}
}

func defaultDataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		return filepath.Join(os.TempDir(), "narrato")
	}
	return filepath.Join(dir, "narrato")
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.PlaybackRate < MinPlaybackRate || c.PlaybackRate > MaxPlaybackRate {
		return fmt.Errorf("%w: got %.2f", ErrRateOutOfRange, c.PlaybackRate)
	}
	if c.Lookahead < 1 {
		return fmt.Errorf("lookahead must be at least 1, got %d", c.Lookahead)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.SynthesisTimeout <= 0 {
		return fmt.Errorf("synthesis timeout must be positive, got %s", c.SynthesisTimeout)
	}
	if c.VerifyEvery < 1 {
		return fmt.Errorf("verify interval must be at least 1, got %d", c.VerifyEvery)
	}
	if c.CacheSizeLimit <= 0 {
		return fmt.Errorf("cache size limit must be positive, got %d", c.CacheSizeLimit)
	}
	if c.DownloadConcurrency < 1 {
		return fmt.Errorf("download concurrency must be at least 1, got %d", c.DownloadConcurrency)
	}
	if c.AutosaveInterval <= 0 {
		return fmt.Errorf("autosave interval must be positive, got %s", c.AutosaveInterval)
	}
	return nil
}
