package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/narrato/narrato/internal/cache"
)

// pollInterval is how often the playback loop re-checks the cache while
// buffering on a segment that is still synthesizing.
const pollInterval = 50 * time.Millisecond

// synthRetries is how many times a segment synthesis is re-queued when
// the playback frontier is blocked on it before the segment is skipped.
const synthRetries = 2

// Controller drives chapter playback: it segments text, keeps a
// lookahead window of segments synthesized ahead of the playhead, and
// feeds finished clips to the audio sink. All public methods are safe
// for concurrent use.
type Controller struct {
	cfg       Config
	engine    Engine
	sink      AudioSink
	segmenter Segmenter
	cache     *cache.AudioCache
	tracker   *ReadinessTracker
	progress  ProgressStore

	mu       sync.Mutex
	sm       *StateMachine
	chapter  ChapterKey
	segments []Segment
	position int
	rate     float64
	voice    string
	advances int
	gen      uint64
	closed   bool

	jobs     chan synthJob
	inflight map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loopWg sync.WaitGroup
}

// synthJob is one segment synthesis request handed to a worker.
type synthJob struct {
	chapter  ChapterKey
	index    int
	text     string
	cacheKey string
	rate     float64
}

// NewController creates a playback controller and starts its synthesis
// workers and progress autosave loop.
func NewController(cfg Config, engine Engine, sink AudioSink, segmenter Segmenter, audioCache *cache.AudioCache, tracker *ReadinessTracker, progress ProgressStore) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("controller config: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:       cfg,
		engine:    engine,
		sink:      sink,
		segmenter: segmenter,
		cache:     audioCache,
		tracker:   tracker,
		progress:  progress,
		sm:        NewStateMachine(),
		rate:      cfg.PlaybackRate,
		voice:     cfg.Voice,
		jobs:      make(chan synthJob, cfg.Workers*8),
		inflight:  make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	c.wg.Add(1)
	go c.autosaveLoop()
	return c, nil
}

// LoadChapter segments the chapter text and prepares it for playback:
// readiness is seeded from the cache, the first unplayed segment is
// synthesized synchronously, and the lookahead window is queued. If the
// progress store holds a position for this exact chapter, playback
// resumes from it.
func (c *Controller) LoadChapter(bookID string, chapter int, text string) error {
	if !c.engine.HasVoice(c.voice) {
		c.mu.Lock()
		c.toStateLocked(StateError)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrVoiceNotAvailable, c.voice)
	}

	segments := c.segmenter.Segment(text)
	if len(segments) == 0 {
		return fmt.Errorf("%w: chapter %d of %q produced no segments", ErrNoChapterLoaded, chapter, bookID)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	c.unloadLocked()
	if !c.sm.Transition(StateLoading) {
		cur := c.sm.Current()
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot load from %s", ErrInvalidState, cur)
	}
	key := ChapterKey{BookID: bookID, Chapter: chapter}
	c.chapter = key
	c.segments = segments
	c.position = 0
	c.advances = 0
	c.gen++
	rate := c.rate
	c.mu.Unlock()

	c.tracker.Track(key)

	// Seed readiness from cache ground truth before any synthesis.
	ready := 0
	for _, seg := range segments {
		if c.cache.IsReady(GenerateKey(c.voice, seg.Text, rate)) {
			c.tracker.Observe(key, seg.Index, ReadinessReady)
			ready++
		}
	}

	pos := 0
	if c.progress != nil {
		if savedChapter, savedSegment, ok, err := c.progress.Load(bookID); err != nil {
			log.Warn("controller: progress load failed", "book", bookID, "error", err)
		} else if ok && savedChapter == chapter && savedSegment > 0 && savedSegment < len(segments) {
			pos = savedSegment
		}
	}

	c.mu.Lock()
	c.position = pos
	c.mu.Unlock()

	log.Info("controller: chapter loaded", "chapter", key.String(),
		"segments", len(segments), "cached", ready, "position", pos)

	// First segment synchronously so Play can start without buffering.
	// A failure here is not fatal: the segment stays not-ready and the
	// playback loop retries or skips it.
	if err := c.synthesizeIndex(pos); err != nil {
		log.Warn("controller: initial segment synthesis failed",
			"chapter", key.String(), "segment", pos, "error", err)
	}
	c.schedulePrefetch()

	c.mu.Lock()
	c.toStateLocked(StateReady)
	c.mu.Unlock()
	return nil
}

// Play starts or resumes playback.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrShutdown
	}
	switch c.sm.Current() {
	case StatePaused:
		if err := c.sink.Resume(); err != nil {
			return err
		}
		c.sm.Transition(StatePlaying)
		return nil
	case StateReady:
		c.sm.Transition(StatePlaying)
		c.loopWg.Add(1)
		go c.playLoop()
		return nil
	case StatePlaying, StateBuffering:
		return nil
	case StateIdle, StateLoading:
		return ErrNoChapterLoaded
	default:
		return fmt.Errorf("%w: cannot play from %s", ErrInvalidState, c.sm.Current())
	}
}

// Pause pauses playback, keeping the current clip and position.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sm.Current() != StatePlaying {
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidState, c.sm.Current())
	}
	if err := c.sink.Pause(); err != nil {
		return err
	}
	c.sm.Transition(StatePaused)
	return nil
}

// Stop halts playback, saves progress, and unloads the chapter.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.sm.Current() == StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.saveProgressLocked()
	c.unloadLocked()
	c.mu.Unlock()
	c.loopWg.Wait()
	return nil
}

// NextTrack advances to the next segment.
func (c *Controller) NextTrack() error { return c.seekRelative(1) }

// PreviousTrack moves back one segment.
func (c *Controller) PreviousTrack() error { return c.seekRelative(-1) }

func (c *Controller) seekRelative(delta int) error {
	c.mu.Lock()
	pos := c.position + delta
	c.mu.Unlock()
	return c.SeekToTrack(pos)
}

// SeekToTrack jumps to the given segment index, clamped to the chapter
// bounds. Playback continues from the new position if it was active.
func (c *Controller) SeekToTrack(index int) error {
	c.mu.Lock()
	if len(c.segments) == 0 {
		c.mu.Unlock()
		return ErrNoChapterLoaded
	}
	if index < 0 {
		index = 0
	}
	if index >= len(c.segments) {
		index = len(c.segments) - 1
	}
	c.position = index
	c.gen++
	active := c.sm.Current() == StatePlaying || c.sm.Current() == StateBuffering
	c.saveProgressLocked()
	c.mu.Unlock()

	log.Debug("controller: seek", "segment", index)
	if active {
		// Bumping gen first means the loop treats the clip end as a
		// seek, not a natural advance.
		_ = c.sink.Stop()
	}
	c.schedulePrefetch()
	c.ensureQueued(index)
	return nil
}

// SetPlaybackRate changes the playback rate. Cached audio synthesized
// at a different rate bucket is no longer usable, so readiness is
// re-seeded and the lookahead window re-queued under the new keys. The
// currently playing clip finishes at its old rate.
func (c *Controller) SetPlaybackRate(rate float64) error {
	if rate < MinPlaybackRate || rate > MaxPlaybackRate {
		return fmt.Errorf("%w: got %.2f", ErrRateOutOfRange, rate)
	}
	c.mu.Lock()
	oldBucket := SynthesisRate(c.rate)
	c.rate = rate
	key := c.chapter
	segments := c.segments
	c.mu.Unlock()

	if len(segments) == 0 || SynthesisRate(rate) == oldBucket {
		return nil
	}
	log.Info("controller: rate bucket changed", "rate", rate, "bucket", SynthesisRate(rate))
	for _, seg := range segments {
		state := ReadinessNotReady
		if c.cache.IsReady(GenerateKey(c.voice, seg.Text, rate)) {
			state = ReadinessReady
		}
		c.tracker.Observe(key, seg.Index, state)
	}
	c.schedulePrefetch()
	return nil
}

// Rate returns the current playback rate.
func (c *Controller) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// State returns the controller state.
func (c *Controller) State() StateType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.Current()
}

// Position returns the current segment index.
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Segments returns the loaded chapter's segments.
func (c *Controller) Segments() []Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Segment(nil), c.segments...)
}

// Chapter returns the loaded chapter's key.
func (c *Controller) Chapter() ChapterKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chapter
}

// Shutdown stops playback, drains the synthesis workers, and saves
// progress. The engine, cache, and sink are owned by the caller.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.saveProgressLocked()
	c.unloadLocked()
	c.mu.Unlock()

	c.cancel()
	c.loopWg.Wait()
	close(c.jobs)
	c.wg.Wait()
	return nil
}

// unloadLocked stops the sink and drops the loaded chapter. Callers
// hold c.mu.
func (c *Controller) unloadLocked() {
	cur := c.sm.Current()
	if cur == StateIdle {
		return
	}
	c.gen++
	if cur != StateStopping {
		c.sm.Transition(StateStopping)
	}
	_ = c.sink.Stop()
	c.segments = nil
	c.position = 0
	c.chapter = ChapterKey{}
	c.sm.Transition(StateIdle)
}

// toStateLocked transitions via StateStopping/StateIdle when a direct
// transition is not allowed. Callers hold c.mu.
func (c *Controller) toStateLocked(to StateType) {
	if c.sm.Transition(to) {
		return
	}
	c.sm.Transition(StateStopping)
	c.sm.Transition(StateIdle)
	c.sm.Transition(to)
}

// playLoop plays segments in order until the chapter ends, the chapter
// is unloaded, or gen moves past it.
func (c *Controller) playLoop() {
	defer c.loopWg.Done()
	for {
		c.mu.Lock()
		if c.closed || !c.sm.Current().IsActive() {
			c.mu.Unlock()
			return
		}
		if c.position >= len(c.segments) {
			c.saveProgressLocked()
			c.toStateLocked(StateReady)
			c.mu.Unlock()
			log.Info("controller: chapter finished")
			return
		}
		pos := c.position
		seg := c.segments[pos]
		rate := c.rate
		chapterKey := c.chapter
		gen := c.gen
		c.mu.Unlock()

		cacheKey := GenerateKey(c.voice, seg.Text, rate)
		art, err := c.fetchClip(cacheKey)
		if err != nil {
			if waitErr := c.waitForSegment(pos, cacheKey); waitErr != nil {
				log.Error("controller: segment unplayable, skipping",
					"chapter", chapterKey.String(), "segment", pos, "error", waitErr)
				c.advance(gen)
			}
			continue
		}

		audio := &Audio{
			Data:       art.Data,
			SampleRate: art.SampleRate,
			Channels:   art.Channels,
			Duration:   art.Duration,
		}
		// The artifact was synthesized at its rate bucket; the sink
		// applies only the residual factor.
		residual := rate / art.Rate
		if err := c.sink.Play(audio, residual); err != nil {
			log.Error("controller: sink rejected clip, skipping", "segment", pos, "error", err)
			c.advance(gen)
			continue
		}

		c.mu.Lock()
		if c.sm.Current() == StateBuffering {
			c.sm.Transition(StatePlaying)
		}
		c.mu.Unlock()
		c.schedulePrefetch()

		select {
		case <-c.ctx.Done():
			return
		case <-c.sink.Done():
			c.advance(gen)
		}
	}
}

// fetchClip retrieves a cached clip, mapping the cache's not-found
// onto the pipeline's miss sentinel.
func (c *Controller) fetchClip(key string) (*cache.Artifact, error) {
	art, err := c.cache.Fetch(key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	return art, err
}

// advance moves the playhead forward one segment unless a seek or
// reload happened since the clip started.
func (c *Controller) advance(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || !c.sm.Current().IsActive() {
		c.mu.Unlock()
		return
	}
	c.position++
	c.advances++
	verify := c.advances >= c.cfg.VerifyEvery
	if verify {
		c.advances = 0
	}
	c.mu.Unlock()

	if verify {
		c.verifyWindow()
	}
	c.schedulePrefetch()
}

// waitForSegment blocks until the segment's artifact is cached, the
// controller shuts down, or the synthesis budget is exhausted. It moves
// the controller to buffering while it waits.
func (c *Controller) waitForSegment(index int, cacheKey string) error {
	c.mu.Lock()
	if c.sm.Current() == StatePlaying {
		c.sm.Transition(StateBuffering)
	}
	c.mu.Unlock()

	c.ensureQueued(index)

	deadline := time.Now().Add(time.Duration(synthRetries+1) * c.cfg.SynthesisTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0
	for {
		select {
		case <-c.ctx.Done():
			return ErrShutdown
		case <-ticker.C:
		}
		if c.cache.IsReady(cacheKey) {
			return nil
		}
		c.mu.Lock()
		_, inflight := c.inflight[cacheKey]
		chapterKey := c.chapter
		c.mu.Unlock()
		if !inflight && c.tracker.State(chapterKey, index) != ReadinessReady {
			// The queued attempt failed. Retry a bounded number of
			// times, then give up on the segment.
			if retries >= synthRetries {
				err := fmt.Errorf("%w after %d attempts", ErrSynthesisFailed, retries+1)
				return NewPipelineError(err, "controller", "playback").WithSegment(index)
			}
			retries++
			c.ensureQueued(index)
		}
		if time.Now().After(deadline) {
			return NewPipelineError(ErrSynthesisTimeout, "controller", "playback").WithSegment(index)
		}
	}
}

// schedulePrefetch queues synthesis for the lookahead window starting
// at the current position.
func (c *Controller) schedulePrefetch() {
	c.mu.Lock()
	start := c.position
	end := start + c.cfg.Lookahead
	if end > len(c.segments) {
		end = len(c.segments)
	}
	c.mu.Unlock()
	for i := start; i < end; i++ {
		c.ensureQueued(i)
	}
}

// ensureQueued enqueues a synthesis job for the segment unless it is
// already cached or in flight.
func (c *Controller) ensureQueued(index int) {
	c.mu.Lock()
	if c.closed || index < 0 || index >= len(c.segments) {
		c.mu.Unlock()
		return
	}
	seg := c.segments[index]
	rate := c.rate
	chapterKey := c.chapter
	cacheKey := GenerateKey(c.voice, seg.Text, rate)
	if _, ok := c.inflight[cacheKey]; ok {
		c.mu.Unlock()
		return
	}
	if c.cache.IsReady(cacheKey) {
		c.mu.Unlock()
		c.tracker.Observe(chapterKey, index, ReadinessReady)
		return
	}
	job := synthJob{chapter: chapterKey, index: index, text: seg.Text, cacheKey: cacheKey, rate: rate}
	// Sent under the lock so a concurrent Shutdown cannot close the
	// channel between the closed check and the send.
	select {
	case c.jobs <- job:
		c.inflight[cacheKey] = struct{}{}
	default:
		// Queue full: drop, the next prefetch pass re-queues.
	}
	c.mu.Unlock()
}

// worker consumes synthesis jobs until the jobs channel closes.
func (c *Controller) worker(id int) {
	defer c.wg.Done()
	log.Debug("controller: synthesis worker started", "worker", id)
	for job := range c.jobs {
		c.runJob(job)
	}
}

func (c *Controller) runJob(job synthJob) {
	defer func() {
		c.mu.Lock()
		delete(c.inflight, job.cacheKey)
		c.mu.Unlock()
	}()

	// A concurrent worker or an earlier chapter visit may have filled
	// the key already.
	if c.cache.IsReady(job.cacheKey) {
		c.tracker.Observe(job.chapter, job.index, ReadinessReady)
		return
	}
	c.tracker.Observe(job.chapter, job.index, ReadinessSynthesizing)

	synthRate := SynthesisRate(job.rate)
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SynthesisTimeout)
	audio, err := c.engine.Synthesize(ctx, c.voice, job.text, synthRate)
	cancel()
	if err != nil {
		// Prefetch failures are absorbed: the segment reverts to
		// not-ready and playback decides whether to retry or skip.
		c.tracker.Observe(job.chapter, job.index, ReadinessNotReady)
		log.Warn("controller: synthesis failed",
			"chapter", job.chapter.String(), "segment", job.index, "error", err)
		return
	}

	art := &cache.Artifact{
		Data:       audio.Data,
		VoiceID:    c.voice,
		Rate:       synthRate,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Duration:   audio.Duration,
	}
	if err := c.cache.Store(job.cacheKey, art); err != nil {
		c.tracker.Observe(job.chapter, job.index, ReadinessNotReady)
		log.Error("controller: cache store failed", "segment", job.index, "error", err)
		return
	}
	c.tracker.Observe(job.chapter, job.index, ReadinessReady)
}

// synthesizeIndex synthesizes one segment synchronously through the
// same path the workers use.
func (c *Controller) synthesizeIndex(index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.segments) {
		c.mu.Unlock()
		return fmt.Errorf("segment %d out of range", index)
	}
	seg := c.segments[index]
	rate := c.rate
	chapterKey := c.chapter
	cacheKey := GenerateKey(c.voice, seg.Text, rate)
	if _, ok := c.inflight[cacheKey]; ok {
		c.mu.Unlock()
		return nil
	}
	c.inflight[cacheKey] = struct{}{}
	c.mu.Unlock()

	job := synthJob{chapter: chapterKey, index: index, text: seg.Text, cacheKey: cacheKey, rate: rate}
	c.runJob(job)
	if !c.cache.IsReady(cacheKey) {
		return NewPipelineError(ErrSynthesisFailed, "controller", "load").WithSegment(index)
	}
	return nil
}

// verifyWindow reconciles believed-ready segments around the playhead
// with the cache, re-queuing anything the cache evicted.
func (c *Controller) verifyWindow() {
	c.mu.Lock()
	chapterKey := c.chapter
	start := c.position
	window := c.cfg.Lookahead + 1
	segments := c.segments
	rate := c.rate
	c.mu.Unlock()
	if len(segments) == 0 {
		return
	}

	evicted := c.tracker.VerifyAgainstCache(chapterKey, start, window, func(index int) bool {
		if index < 0 || index >= len(segments) {
			return false
		}
		return c.cache.IsReady(GenerateKey(c.voice, segments[index].Text, rate))
	})
	for _, index := range evicted {
		c.ensureQueued(index)
	}
}

// saveProgressLocked persists the current position. Callers hold c.mu.
func (c *Controller) saveProgressLocked() {
	if c.progress == nil || c.chapter.BookID == "" {
		return
	}
	if err := c.progress.Save(c.chapter.BookID, c.chapter.Chapter, c.position); err != nil {
		log.Warn("controller: progress save failed", "chapter", c.chapter.String(), "error", err)
	}
}

// autosaveLoop periodically persists the playback position while a
// chapter is loaded.
func (c *Controller) autosaveLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.AutosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.sm.Current().IsActive() {
				c.saveProgressLocked()
			}
			c.mu.Unlock()
		}
	}
}
