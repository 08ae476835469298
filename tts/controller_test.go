package tts_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/narrato/narrato/internal/cache"
	"github.com/narrato/narrato/tts"
	"github.com/narrato/narrato/tts/audio"
	"github.com/narrato/narrato/tts/engines/mock"
	"github.com/narrato/narrato/tts/segment"
)

const chapterText = `The Lighthouse

The keeper climbed the winding stairs every evening before dusk fell.
He trimmed the wick and polished the great lens until it gleamed.

Far below, the waves broke against the rocks in long white lines.`

// memStore is an in-memory tts.ProgressStore.
type memStore struct {
	mu        sync.Mutex
	positions map[string][2]int
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string][2]int)}
}

func (s *memStore) Save(bookID string, chapter, seg int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[bookID] = [2]int{chapter, seg}
	return nil
}

func (s *memStore) Load(bookID string) (int, int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[bookID]
	return pos[0], pos[1], ok, nil
}

type testPipeline struct {
	engine     *mock.Engine
	cache      *cache.AudioCache
	tracker    *tts.ReadinessTracker
	store      *memStore
	controller *tts.Controller
}

func newTestPipeline(t *testing.T, sink tts.AudioSink) *testPipeline {
	t.Helper()
	cfg := tts.DefaultConfig()
	cfg.Engine = "mock"
	cfg.Voice = "mock-voice-1"
	cfg.Lookahead = 2
	cfg.Workers = 2
	cfg.SynthesisTimeout = 2 * time.Second
	cfg.VerifyEvery = 3
	cfg.CacheDir = t.TempDir()
	cfg.AutosaveInterval = time.Hour

	audioCache, err := cache.New(cache.Config{
		Dir:           cfg.CacheDir,
		DiskSizeLimit: cfg.CacheSizeLimit,
		MemSizeLimit:  cfg.MemCacheLimit,
		TTL:           cfg.CacheTTL,
	})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(func() { _ = audioCache.Close() })

	engine := mock.New()
	engine.SetDelay(time.Millisecond)
	tracker := tts.NewReadinessTracker()
	store := newMemStore()

	controller, err := tts.NewController(cfg, engine, sink, segment.NewParser(), audioCache, tracker, store)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() { _ = controller.Shutdown() })

	return &testPipeline{
		engine:     engine,
		cache:      audioCache,
		tracker:    tracker,
		store:      store,
		controller: controller,
	}
}

func waitForState(t *testing.T, c *tts.Controller, want tts.StateType, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected state %s within %s, still %s", want, timeout, c.State())
}

func TestControllerLoadChapter(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.01))

	if err := p.controller.LoadChapter("lighthouse", 0, chapterText); err != nil {
		t.Fatalf("LoadChapter: %v", err)
	}
	if got := p.controller.State(); got != tts.StateReady {
		t.Errorf("Expected state ready after load, got %s", got)
	}

	segments := p.controller.Segments()
	if len(segments) < 3 {
		t.Fatalf("Expected at least 3 segments, got %d", len(segments))
	}
	if segments[0].Type != tts.SegmentHeading {
		t.Errorf("Expected first segment to be a heading, got %v", segments[0].Type)
	}

	// The first segment is synthesized before LoadChapter returns.
	key := p.controller.Chapter()
	if got := p.tracker.State(key, 0); got != tts.ReadinessReady {
		t.Errorf("Expected segment 0 ready after load, got %s", got)
	}
	cacheKey := tts.GenerateKey("mock-voice-1", segments[0].Text, 1.0)
	if !p.cache.IsReady(cacheKey) {
		t.Error("Expected segment 0 in the cache after load")
	}
}

func TestControllerLoadChapterMissingVoice(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.01))
	p.engine.SetVoiceAvailable("mock-voice-1", false)

	err := p.controller.LoadChapter("lighthouse", 0, chapterText)
	if !errors.Is(err, tts.ErrVoiceNotAvailable) {
		t.Fatalf("Expected ErrVoiceNotAvailable, got %v", err)
	}
	if got := p.controller.State(); got != tts.StateError {
		t.Errorf("Expected error state, got %s", got)
	}
}

func TestControllerPlayThrough(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.005))

	if err := p.controller.LoadChapter("lighthouse", 0, chapterText); err != nil {
		t.Fatalf("LoadChapter: %v", err)
	}
	segments := p.controller.Segments()

	if err := p.controller.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitForState(t, p.controller, tts.StateReady, 10*time.Second)

	// Every segment was synthesized exactly once.
	if calls := p.engine.Calls(); calls != len(segments) {
		t.Errorf("Expected %d synthesis calls, got %d", len(segments), calls)
	}
	for _, seg := range segments {
		key := tts.GenerateKey("mock-voice-1", seg.Text, 1.0)
		if !p.cache.IsReady(key) {
			t.Errorf("Expected segment %d cached after playback", seg.Index)
		}
	}
}

func TestControllerPlayWithoutChapter(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.01))
	if err := p.controller.Play(); !errors.Is(err, tts.ErrNoChapterLoaded) {
		t.Errorf("Expected ErrNoChapterLoaded, got %v", err)
	}
}

func TestControllerPauseResume(t *testing.T) {
	// Real-time sink so the first clip is still playing when we pause.
	p := newTestPipeline(t, audio.NewNullSink())

	if err := p.controller.LoadChapter("lighthouse", 0, chapterText); err != nil {
		t.Fatalf("LoadChapter: %v", err)
	}
	if err := p.controller.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := p.controller.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := p.controller.State(); got != tts.StatePaused {
		t.Errorf("Expected paused, got %s", got)
	}
	if err := p.controller.Play(); err != nil {
		t.Fatalf("Resume via Play: %v", err)
	}
	if got := p.controller.State(); got != tts.StatePlaying {
		t.Errorf("Expected playing after resume, got %s", got)
	}

	if err := p.controller.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := p.controller.State(); got != tts.StateIdle {
		t.Errorf("Expected idle after stop, got %s", got)
	}
}

func TestControllerSeekClamps(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.01))

	if err := p.controller.SeekToTrack(1); !errors.Is(err, tts.ErrNoChapterLoaded) {
		t.Fatalf("Expected ErrNoChapterLoaded before load, got %v", err)
	}

	if err := p.controller.LoadChapter("lighthouse", 0, chapterText); err != nil {
		t.Fatalf("LoadChapter: %v", err)
	}
	last := len(p.controller.Segments()) - 1

	if err := p.controller.SeekToTrack(100); err != nil {
		t.Fatalf("SeekToTrack: %v", err)
	}
	if got := p.controller.Position(); got != last {
		t.Errorf("Expected clamp to %d, got %d", last, got)
	}

	if err := p.controller.SeekToTrack(-5); err != nil {
		t.Fatalf("SeekToTrack: %v", err)
	}
	if got := p.controller.Position(); got != 0 {
		t.Errorf("Expected clamp to 0, got %d", got)
	}

	if err := p.controller.NextTrack(); err != nil {
		t.Fatalf("NextTrack: %v", err)
	}
	if got := p.controller.Position(); got != 1 {
		t.Errorf("Expected position 1, got %d", got)
	}
	if err := p.controller.PreviousTrack(); err != nil {
		t.Fatalf("PreviousTrack: %v", err)
	}
	if got := p.controller.Position(); got != 0 {
		t.Errorf("Expected position 0, got %d", got)
	}
}

func TestControllerFarSeekTriggersSynthesis(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.01))

	if err := p.controller.LoadChapter("lighthouse", 0, chapterText); err != nil {
		t.Fatalf("LoadChapter: %v", err)
	}
	segments := p.controller.Segments()
	last := len(segments) - 1
	lastKey := tts.GenerateKey("mock-voice-1", segments[last].Text, 1.0)

	// The last segment sits beyond the lookahead window at load time.
	if p.cache.IsReady(lastKey) {
		t.Fatal("Expected far segment uncached before seek")
	}

	if err := p.controller.SeekToTrack(last); err != nil {
		t.Fatalf("SeekToTrack: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !p.cache.IsReady(lastKey) {
		if time.Now().After(deadline) {
			t.Fatal("Expected seek target synthesized after far seek")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := p.controller.Position(); got != last {
		t.Errorf("Expected position %d after seek, got %d", last, got)
	}
}

func TestControllerSetPlaybackRate(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.01))

	if err := p.controller.SetPlaybackRate(0.1); !errors.Is(err, tts.ErrRateOutOfRange) {
		t.Errorf("Expected ErrRateOutOfRange for 0.1, got %v", err)
	}
	if err := p.controller.SetPlaybackRate(3.5); !errors.Is(err, tts.ErrRateOutOfRange) {
		t.Errorf("Expected ErrRateOutOfRange for 3.5, got %v", err)
	}
	if err := p.controller.SetPlaybackRate(1.75); err != nil {
		t.Fatalf("SetPlaybackRate: %v", err)
	}
	if got := p.controller.Rate(); got != 1.75 {
		t.Errorf("Expected rate 1.75, got %.2f", got)
	}
}

func TestControllerRateChangeInvalidatesReadiness(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.01))

	if err := p.controller.LoadChapter("lighthouse", 0, chapterText); err != nil {
		t.Fatalf("LoadChapter: %v", err)
	}
	key := p.controller.Chapter()
	if got := p.tracker.State(key, 0); got != tts.ReadinessReady {
		t.Fatalf("Expected segment 0 ready, got %s", got)
	}

	// 2.0 lives in a different bucket than 1.0, so nothing synthesized so
	// far is usable. Prefetch then refills under the new keys.
	if err := p.controller.SetPlaybackRate(2.0); err != nil {
		t.Fatalf("SetPlaybackRate: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	seg0 := p.controller.Segments()[0]
	newKey := tts.GenerateKey("mock-voice-1", seg0.Text, 2.0)
	for time.Now().Before(deadline) {
		if p.cache.IsReady(newKey) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Expected segment 0 re-synthesized at the new rate bucket")
}

func TestControllerSkipsFailingSegment(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.005))

	segments := segment.NewParser().Segment(chapterText)
	failing := segments[1].Text
	p.engine.FailText(failing, tts.ErrSynthesisFailed)

	if err := p.controller.LoadChapter("lighthouse", 0, chapterText); err != nil {
		t.Fatalf("LoadChapter: %v", err)
	}
	if err := p.controller.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitForState(t, p.controller, tts.StateReady, 15*time.Second)

	// The failing segment is skipped; everything else still played and
	// landed in the cache.
	for _, seg := range p.controller.Segments() {
		key := tts.GenerateKey("mock-voice-1", seg.Text, 1.0)
		if seg.Text == failing {
			if p.cache.IsReady(key) {
				t.Error("Expected failing segment to stay uncached")
			}
			continue
		}
		if !p.cache.IsReady(key) {
			t.Errorf("Expected segment %d cached", seg.Index)
		}
	}
}

func TestControllerResumesSavedPosition(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.01))
	if err := p.store.Save("lighthouse", 0, 2); err != nil {
		t.Fatal(err)
	}

	if err := p.controller.LoadChapter("lighthouse", 0, chapterText); err != nil {
		t.Fatalf("LoadChapter: %v", err)
	}
	if got := p.controller.Position(); got != 2 {
		t.Errorf("Expected resume at segment 2, got %d", got)
	}
}

func TestControllerShutdownIdempotent(t *testing.T) {
	p := newTestPipeline(t, audio.NewNullSinkScaled(0.01))
	if err := p.controller.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := p.controller.Shutdown(); err != nil {
		t.Fatalf("Second Shutdown: %v", err)
	}
	if err := p.controller.Play(); !errors.Is(err, tts.ErrShutdown) {
		t.Errorf("Expected ErrShutdown after shutdown, got %v", err)
	}
}
