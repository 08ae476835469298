// Package mock provides a deterministic synthesis engine for tests and
// benchmarking.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/narrato/narrato/tts"
)

// Engine implements tts.Engine with configurable latency and failure
// injection. Audio output is silence sized from a words-per-minute
// duration model, so benchmark timings are reproducible.
type Engine struct {
	mu sync.Mutex

	delay       time.Duration
	perCharCost time.Duration
	sampleRate  int

	voices      []tts.Voice
	unavailable map[string]bool

	failNext  error
	failTexts map[string]error
	calls     int
}

// New creates a mock engine with two voices and a small fixed delay.
func New() *Engine {
	return &Engine{
		delay:      10 * time.Millisecond,
		sampleRate: 22050,
		voices: []tts.Voice{
			{ID: "mock-voice-1", Name: "Mock Voice 1", Language: "en-US", EngineID: "mock"},
			{ID: "mock-voice-2", Name: "Mock Voice 2", Language: "en-GB", EngineID: "mock"},
		},
		unavailable: make(map[string]bool),
		failTexts:   make(map[string]error),
	}
}

// Name returns the engine identifier.
func (e *Engine) Name() string { return "mock" }

// Synthesize produces silent PCM sized from the text's estimated
// speaking duration, after the configured simulated latency.
func (e *Engine) Synthesize(ctx context.Context, voiceID, text string, rate float64) (*tts.Audio, error) {
	e.mu.Lock()
	e.calls++
	if !e.hasVoiceLocked(voiceID) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", tts.ErrVoiceNotAvailable, voiceID)
	}
	if err := e.failNext; err != nil {
		e.failNext = nil
		e.mu.Unlock()
		return nil, err
	}
	if err := e.failTexts[text]; err != nil {
		e.mu.Unlock()
		return nil, err
	}
	delay := e.delay + time.Duration(len(text))*e.perCharCost
	sampleRate := e.sampleRate
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	duration := estimateDuration(text, rate)
	samples := int(duration.Seconds() * float64(sampleRate))
	return &tts.Audio{
		Data:       make([]byte, samples*2),
		SampleRate: sampleRate,
		Channels:   1,
		Duration:   duration,
	}, nil
}

// Voices returns the mock voices.
func (e *Engine) Voices() []tts.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]tts.Voice(nil), e.voices...)
}

// HasVoice reports whether the voice exists and is marked available.
func (e *Engine) HasVoice(voiceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasVoiceLocked(voiceID)
}

func (e *Engine) hasVoiceLocked(voiceID string) bool {
	if e.unavailable[voiceID] {
		return false
	}
	for _, v := range e.voices {
		if v.ID == voiceID {
			return true
		}
	}
	return false
}

// Ready always returns true.
func (e *Engine) Ready() bool { return true }

// Shutdown releases nothing.
func (e *Engine) Shutdown() error { return nil }

// Test controls

// SetDelay sets the fixed simulated synthesis latency.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// SetPerCharCost adds latency proportional to text length.
func (e *Engine) SetPerCharCost(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.perCharCost = d
}

// FailNext makes the next Synthesize call return err.
func (e *Engine) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = err
}

// FailText makes every Synthesize call for exactly text return err.
func (e *Engine) FailText(text string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failTexts[text] = err
}

// SetVoiceAvailable toggles a voice's availability.
func (e *Engine) SetVoiceAvailable(voiceID string, available bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unavailable[voiceID] = !available
}

// Calls returns the number of Synthesize invocations.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// estimateDuration models ~150 wpm speech scaled by the synthesis rate.
func estimateDuration(text string, rate float64) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	if rate <= 0 {
		rate = 1.0
	}
	seconds := float64(words) * 60.0 / 150.0 / rate
	return time.Duration(seconds * float64(time.Second))
}
