package tts

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LoadConfigFromViper loads the pipeline configuration from Viper.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()

	if viper.IsSet("engine") {
		cfg.Engine = viper.GetString("engine")
	}
	if viper.IsSet("voice") {
		cfg.Voice = viper.GetString("voice")
	}

	// Playback settings
	if viper.IsSet("playback.rate") {
		cfg.PlaybackRate = viper.GetFloat64("playback.rate")
	}
	if viper.IsSet("playback.lookahead") {
		cfg.Lookahead = viper.GetInt("playback.lookahead")
	}
	if viper.IsSet("playback.workers") {
		cfg.Workers = viper.GetInt("playback.workers")
	}
	if viper.IsSet("playback.synthesis_timeout") {
		if d, err := time.ParseDuration(viper.GetString("playback.synthesis_timeout")); err == nil {
			cfg.SynthesisTimeout = d
		}
	}
	if viper.IsSet("playback.verify_every") {
		cfg.VerifyEvery = viper.GetInt("playback.verify_every")
	}

	// Cache settings
	if viper.IsSet("cache.dir") {
		cfg.CacheDir = viper.GetString("cache.dir")
	}
	if viper.IsSet("cache.size_limit") {
		cfg.CacheSizeLimit = viper.GetInt64("cache.size_limit")
	}
	if viper.IsSet("cache.ttl") {
		if d, err := time.ParseDuration(viper.GetString("cache.ttl")); err == nil {
			cfg.CacheTTL = d
		}
	}
	if viper.IsSet("cache.memory_limit") {
		cfg.MemCacheLimit = viper.GetInt64("cache.memory_limit")
	}

	// Download settings
	if viper.IsSet("downloads.dir") {
		cfg.DownloadDir = viper.GetString("downloads.dir")
	}
	if viper.IsSet("downloads.concurrency") {
		cfg.DownloadConcurrency = viper.GetInt("downloads.concurrency")
	}
	if viper.IsSet("downloads.wifi_only") {
		cfg.WiFiOnlyDownloads = viper.GetBool("downloads.wifi_only")
	}

	// Progress settings
	if viper.IsSet("progress.path") {
		cfg.ProgressPath = viper.GetString("progress.path")
	}
	if viper.IsSet("progress.autosave_interval") {
		if d, err := time.ParseDuration(viper.GetString("progress.autosave_interval")); err == nil {
			cfg.AutosaveInterval = d
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SetDefaults registers default values in Viper.
func SetDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("engine", defaults.Engine)
	viper.SetDefault("voice", defaults.Voice)

	viper.SetDefault("playback.rate", defaults.PlaybackRate)
	viper.SetDefault("playback.lookahead", defaults.Lookahead)
	viper.SetDefault("playback.workers", defaults.Workers)
	viper.SetDefault("playback.synthesis_timeout", defaults.SynthesisTimeout.String())
	viper.SetDefault("playback.verify_every", defaults.VerifyEvery)

	viper.SetDefault("cache.dir", defaults.CacheDir)
	viper.SetDefault("cache.size_limit", defaults.CacheSizeLimit)
	viper.SetDefault("cache.ttl", defaults.CacheTTL.String())
	viper.SetDefault("cache.memory_limit", defaults.MemCacheLimit)

	viper.SetDefault("downloads.dir", defaults.DownloadDir)
	viper.SetDefault("downloads.concurrency", defaults.DownloadConcurrency)
	viper.SetDefault("downloads.wifi_only", defaults.WiFiOnlyDownloads)

	viper.SetDefault("progress.path", defaults.ProgressPath)
	viper.SetDefault("progress.autosave_interval", defaults.AutosaveInterval.String())
}
