// Package main provides the entry point for the narrato CLI.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/narrato/narrato/internal/cache"
	"github.com/narrato/narrato/internal/download"
	"github.com/narrato/narrato/internal/progress"
	"github.com/narrato/narrato/tts"
	"github.com/narrato/narrato/tts/audio"
	"github.com/narrato/narrato/tts/engines"
	"github.com/narrato/narrato/tts/segment"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	voiceFlag  string
	rateFlag   float64
	engineFlag string
	chapterNum int
	noAudio    bool

	rootCmd = &cobra.Command{
		Use:   "narrato FILE",
		Short: "Read books aloud, with prefetching synthesis",
		Long: "Narrato reads text aloud. Chapters are split into segments,\n" +
			"each segment is synthesized once and cached by content, and a\n" +
			"lookahead window keeps audio ready ahead of the playhead.",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE:         runPlay,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default narrato.yml in the user config dir)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&voiceFlag, "voice", "", "voice to synthesize with")
	rootCmd.PersistentFlags().StringVar(&engineFlag, "engine", "", "synthesis engine (supertonic/mock)")
	rootCmd.Flags().Float64VarP(&rateFlag, "rate", "r", 0, "playback rate (0.5-3.0)")
	rootCmd.Flags().IntVarP(&chapterNum, "chapter", "c", 0, "chapter number for progress tracking")
	rootCmd.Flags().BoolVar(&noAudio, "no-audio", false, "run the pipeline without an audio device")

	_ = viper.BindPFlag("voice", rootCmd.PersistentFlags().Lookup("voice"))
	_ = viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))
	_ = viper.BindPFlag("playback.rate", rootCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(voicesCmd, downloadCmd, deleteCmd, cacheCmd, benchCmd)

	cobra.OnInitialize(func() {
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				log.Warn("could not read configuration file", "path", configFile, "error", err)
			}
		}
		if debug || viper.GetBool("debug") {
			log.SetLevel(log.DebugLevel)
		}
	})
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "narrato")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find the configuration directory.")
		os.Exit(1)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "narrato")}, dirs...)
	}
	if c := os.Getenv("NARRATO_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("narrato")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("narrato")
	viper.AutomaticEnv()
	tts.SetDefaults()

	if err := viper.ReadInConfig(); err == nil {
		log.Debug("using configuration file", "path", viper.ConfigFileUsed())
	}
}

// pipeline bundles everything a command needs, with a single Close.
type pipeline struct {
	cfg      tts.Config
	cache    *cache.AudioCache
	manager  *download.Manager
	engine   tts.Engine
	store    *progress.Store
	segments tts.Segmenter
}

func (p *pipeline) Close() {
	if p.engine != nil {
		_ = p.engine.Shutdown()
	}
	if p.manager != nil {
		p.manager.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
	if p.cache != nil {
		_ = p.cache.Close()
	}
}

// buildPipeline assembles the cache, download manager, engine, and
// progress store from the effective configuration.
func buildPipeline(needEngine bool) (*pipeline, error) {
	cfg, err := tts.LoadConfigFromViper()
	if err != nil {
		return nil, err
	}

	audioCache, err := cache.New(cache.Config{
		Dir:           cfg.CacheDir,
		DiskSizeLimit: cfg.CacheSizeLimit,
		MemSizeLimit:  cfg.MemCacheLimit,
		TTL:           cfg.CacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio cache: %w", err)
	}
	p := &pipeline{cfg: cfg, cache: audioCache}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	// Desktop reports no metered-network signal, so the connectivity
	// probe is always-WiFi and downloads.wifi_only is inert here; see
	// the Config field docs.
	manager, err := download.NewManager(download.Config{
		Dir:         cfg.DownloadDir,
		Concurrency: cfg.DownloadConcurrency,
		WiFiOnly:    func() bool { return cfg.WiFiOnlyDownloads },
	}, catalog, download.NewHTTPFetcher(0), download.AlwaysWiFi{})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("download manager: %w", err)
	}
	p.manager = manager

	store, err := progress.Open(cfg.ProgressPath)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	p.store = store
	p.segments = segment.NewParser()

	if needEngine {
		engine, err := engines.New(cfg, manager)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.engine = engine
		if cfg.Voice == "" {
			if voices := engine.Voices(); len(voices) > 0 {
				p.cfg.Voice = voices[0].ID
			}
		}
	}
	return p, nil
}

// loadCatalog reads the artifact catalog next to the config, falling
// back to the built-in one.
func loadCatalog(cfg tts.Config) (*download.Catalog, error) {
	path := viper.GetString("downloads.catalog")
	if path == "" {
		path = filepath.Join(filepath.Dir(cfg.DownloadDir), "catalog.yml")
	}
	if _, err := os.Stat(path); err == nil {
		return download.LoadCatalog(path)
	}
	return download.ParseCatalog([]byte(defaultCatalogYAML))
}

func runPlay(cmd *cobra.Command, args []string) error {
	text, bookID, err := readBook(args[0])
	if err != nil {
		return err
	}

	p, err := buildPipeline(true)
	if err != nil {
		return err
	}
	defer p.Close()

	var sink tts.AudioSink
	if noAudio || p.cfg.Engine == "mock" {
		sink = audio.NewNullSink()
	} else {
		sink, err = audio.NewSink(44100, 1)
		if err != nil {
			return err
		}
	}

	tracker := tts.NewReadinessTracker()
	controller, err := tts.NewController(p.cfg, p.engine, sink, p.segments, p.cache, tracker, p.store)
	if err != nil {
		return err
	}
	defer func() { _ = controller.Shutdown() }()

	if err := controller.LoadChapter(bookID, chapterNum, text); err != nil {
		return err
	}
	if err := controller.Play(); err != nil {
		return err
	}
	segments := controller.Segments()
	fmt.Printf("Playing %s (%d segments). Ctrl-C to stop.\n", bookID, len(segments))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sig:
			fmt.Println("\nStopping.")
			return controller.Stop()
		case <-ticker.C:
			if !controller.State().IsActive() {
				return nil
			}
		}
	}
}

// readBook loads the chapter text and derives the book identifier from
// the file name.
func readBook(path string) (text, bookID string, err error) {
	var data []byte
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
		bookID = "stdin"
	} else {
		data, err = os.ReadFile(path)
		base := filepath.Base(path)
		bookID = base[:len(base)-len(filepath.Ext(base))]
	}
	if err != nil {
		return "", "", fmt.Errorf("read book: %w", err)
	}
	return string(data), bookID, nil
}
