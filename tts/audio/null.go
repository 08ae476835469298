package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/narrato/narrato/tts"
)

// NullSink simulates playback without an audio device by waiting out
// each clip's duration. Used headless and in tests. A time scale below
// 1.0 compresses simulated playback.
type NullSink struct {
	mu        sync.Mutex
	playing   bool
	paused    bool
	done      chan struct{}
	stop      chan struct{}
	timeScale float64
}

// NewNullSink creates a sink that plays clips in real time.
func NewNullSink() *NullSink {
	return &NullSink{done: closedChan(), timeScale: 1.0}
}

// NewNullSinkScaled creates a sink that plays clips at the given time
// scale (0.01 = 100x faster than real time).
func NewNullSinkScaled(scale float64) *NullSink {
	if scale <= 0 {
		scale = 1.0
	}
	return &NullSink{done: closedChan(), timeScale: scale}
}

// Play simulates playing the clip for duration/rate.
func (s *NullSink) Play(audio *tts.Audio, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing && !s.paused {
		return errors.New("audio: already playing")
	}
	s.stopLocked()

	if rate <= 0 {
		rate = 1.0
	}
	wait := time.Duration(float64(audio.Duration) / rate * s.timeScale)
	s.playing = true
	s.paused = false
	s.done = make(chan struct{})
	s.stop = make(chan struct{})
	go s.run(wait, s.done, s.stop)
	return nil
}

func (s *NullSink) run(wait time.Duration, done, stop chan struct{}) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-stop:
		return
	case <-timer.C:
	}
	s.mu.Lock()
	// A Stop racing the timer may have closed done already; only the
	// clip that still owns s.done may close it.
	if s.done != done || !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.stop = nil
	s.mu.Unlock()
	close(done)
}

// Pause marks playback paused. The simulated clock keeps running; the
// null sink is for pipeline tests, not timing-accurate pause.
func (s *NullSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || s.paused {
		return errors.New("audio: not playing")
	}
	s.paused = true
	return nil
}

// Resume clears the paused mark.
func (s *NullSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return errors.New("audio: not paused")
	}
	s.paused = false
	return nil
}

// Stop halts simulated playback.
func (s *NullSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

// stopLocked must be called with the lock held.
func (s *NullSink) stopLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	if s.playing {
		s.playing = false
		close(s.done)
	}
	s.paused = false
}

// IsPlaying reports whether a clip is being simulated.
func (s *NullSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && !s.paused
}

// Done returns a channel closed when the current clip finishes.
func (s *NullSink) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
