package tts

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// ReadinessState describes whether a segment's audio is available for
// immediate playback.
type ReadinessState int

const (
	// ReadinessNotReady means no cached audio exists for the segment.
	ReadinessNotReady ReadinessState = iota
	// ReadinessSynthesizing means synthesis is in flight.
	ReadinessSynthesizing
	// ReadinessReady means cached audio exists.
	ReadinessReady
)

// String returns the string representation of the readiness state.
func (s ReadinessState) String() string {
	switch s {
	case ReadinessNotReady:
		return "not-ready"
	case ReadinessSynthesizing:
		return "synthesizing"
	case ReadinessReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Opacity returns the display opacity for the state. Kept in the model
// so every consumer renders readiness identically.
func (s ReadinessState) Opacity() float64 {
	switch s {
	case ReadinessReady:
		return 1.0
	case ReadinessSynthesizing:
		return 0.6
	default:
		return 0.3
	}
}

// ChapterKey identifies the chapter whose segments are tracked.
type ChapterKey struct {
	BookID  string
	Chapter int
}

// String returns the canonical "bookID:chapter" form.
func (k ChapterKey) String() string {
	return fmt.Sprintf("%s:%d", k.BookID, k.Chapter)
}

// ReadinessEvent is published whenever a segment's readiness changes.
type ReadinessEvent struct {
	Key   ChapterKey
	Index int
	State ReadinessState
}

// ReadinessTracker maintains the per-segment readiness map for the
// currently tracked chapter. Its view is a belief, not ground truth:
// the cache evicts independently, so believed-ready entries can go
// stale. VerifyAgainstCache reconciles the belief with the cache.
type ReadinessTracker struct {
	mu     sync.RWMutex
	key    ChapterKey
	states map[int]ReadinessState
	subs   []chan ReadinessEvent
}

// NewReadinessTracker creates an empty tracker.
func NewReadinessTracker() *ReadinessTracker {
	return &ReadinessTracker{states: make(map[int]ReadinessState)}
}

// Track switches the tracker to a new chapter key, discarding all state
// from the previous chapter. No-op when the key is unchanged.
func (t *ReadinessTracker) Track(key ChapterKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.key == key {
		return
	}
	log.Debug("readiness: tracking new chapter", "key", key.String(), "discarded", len(t.states))
	t.key = key
	t.states = make(map[int]ReadinessState)
}

// Key returns the currently tracked chapter key.
func (t *ReadinessTracker) Key() ChapterKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.key
}

// Observe records a readiness change for a segment. Updates for a key
// other than the tracked one are dropped; they belong to a chapter the
// user already navigated away from.
func (t *ReadinessTracker) Observe(key ChapterKey, index int, state ReadinessState) {
	t.mu.Lock()
	if t.key != key {
		t.mu.Unlock()
		return
	}
	prev, had := t.states[index]
	t.states[index] = state
	subs := t.subs
	t.mu.Unlock()

	if had && prev == state {
		return
	}
	ev := ReadinessEvent{Key: key, Index: index, State: state}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default: // slow subscriber, drop rather than stall synthesis
		}
	}
}

// State returns the readiness of a segment. Unknown segments are
// not-ready.
func (t *ReadinessTracker) State(key ChapterKey, index int) ReadinessState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.key != key {
		return ReadinessNotReady
	}
	return t.states[index]
}

// Snapshot returns a copy of the readiness map for the tracked chapter.
func (t *ReadinessTracker) Snapshot(key ChapterKey) map[int]ReadinessState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]ReadinessState, len(t.states))
	if t.key != key {
		return out
	}
	for i, s := range t.states {
		out[i] = s
	}
	return out
}

// VerifyAgainstCache re-checks believed-ready segments in the window
// [start, start+window) against cache ground truth via the supplied
// predicate, demoting evicted entries to not-ready. Returns the demoted
// indices. The window is bounded so the check stays cheap enough to run
// every few segment advances.
func (t *ReadinessTracker) VerifyAgainstCache(key ChapterKey, start, window int, cached func(index int) bool) []int {
	t.mu.RLock()
	if t.key != key {
		t.mu.RUnlock()
		return nil
	}
	var suspects []int
	for i := start; i < start+window; i++ {
		if t.states[i] == ReadinessReady {
			suspects = append(suspects, i)
		}
	}
	t.mu.RUnlock()

	// Probe the cache without holding the lock; the predicate may do I/O.
	var evicted []int
	for _, i := range suspects {
		if !cached(i) {
			evicted = append(evicted, i)
		}
	}
	if len(evicted) == 0 {
		return nil
	}

	log.Info("readiness: cache evictions detected", "key", key.String(), "count", len(evicted))
	for _, i := range evicted {
		t.Observe(key, i, ReadinessNotReady)
	}
	return evicted
}

// Subscribe returns a channel receiving readiness change events.
// Events are dropped for subscribers that fall behind.
func (t *ReadinessTracker) Subscribe() <-chan ReadinessEvent {
	ch := make(chan ReadinessEvent, 64)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return ch
}
