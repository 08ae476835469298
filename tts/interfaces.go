// Package tts implements the core playback pipeline for narrato: text
// segmentation, content-addressed synthesis caching, segment readiness
// tracking, and a prefetching playback controller.
package tts

import (
	"context"
	"time"
)

// SegmentType classifies a text segment for synthesis and display.
type SegmentType int

const (
	// SegmentNarration is regular body text.
	SegmentNarration SegmentType = iota
	// SegmentHeading is a chapter or section heading.
	SegmentHeading
)

// Segment is one unit of chapter text mapped to a single synthesized
// audio clip. Segments are immutable once produced by the segmenter;
// their order defines the playback sequence.
type Segment struct {
	Index             int           // Position within the chapter
	Text              string        // Verbatim text to synthesize
	EstimatedDuration time.Duration // Estimated speaking duration
	Type              SegmentType   // Narration, heading, ...
}

// Audio is a synthesized audio artifact.
type Audio struct {
	Data       []byte        // Raw PCM16 little-endian samples
	SampleRate int           // Sample rate in Hz
	Channels   int           // Number of channels
	Duration   time.Duration // Duration of the audio
}

// Voice is a selectable synthesis identity. A voice is never downloaded
// by itself; its readiness derives from the cores it requires.
type Voice struct {
	ID       string // Voice identifier, unique per engine
	Name     string // Human-readable name
	Language string // Language code (e.g. "en-US")
	EngineID string // Engine providing this voice
}

// Engine is the synthesis boundary. The pipeline treats it as a black
// box with observable latency; implementations live in tts/engines.
type Engine interface {
	// Name returns the engine identifier.
	Name() string

	// Synthesize converts text to audio using the given voice at the
	// given synthesis rate. Blocking; honors ctx cancellation.
	Synthesize(ctx context.Context, voiceID, text string, rate float64) (*Audio, error)

	// Voices returns the voices this engine can synthesize with.
	Voices() []Voice

	// HasVoice reports whether the voice is installed and usable.
	HasVoice(voiceID string) bool

	// Ready reports whether the engine itself can synthesize at all.
	Ready() bool

	// Shutdown releases engine resources.
	Shutdown() error
}

// AudioSink plays synthesized audio. Implementations live in tts/audio.
type AudioSink interface {
	// Play starts playing the given audio at the given rate multiplier.
	Play(audio *Audio, rate float64) error

	// Pause temporarily stops playback.
	Pause() error

	// Resume continues paused playback.
	Resume() error

	// Stop halts playback and discards the current clip.
	Stop() error

	// IsPlaying reports whether audio is currently playing.
	IsPlaying() bool

	// Done returns a channel closed when the current clip finishes.
	Done() <-chan struct{}
}

// Segmenter splits chapter text into ordered segments.
type Segmenter interface {
	// Segment splits text into an ordered, immutable segment list.
	Segment(text string) []Segment

	// EstimateDuration estimates the speaking duration for text.
	EstimateDuration(text string) time.Duration
}

// ProgressStore persists the resume position for a book. The controller
// supplies the (book, chapter, segment) triple on demand and on a
// periodic autosave cadence; implementations live in internal/progress.
type ProgressStore interface {
	// Save records the current position for a book.
	Save(bookID string, chapter, segment int) error

	// Load returns the last saved position. ok is false when the book
	// has no saved position.
	Load(bookID string) (chapter, segment int, ok bool, err error)
}
