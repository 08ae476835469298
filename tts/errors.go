package tts

import "errors"

// Common errors for the playback pipeline.
var (
	// Cache errors
	ErrCacheMiss = errors.New("audio not cached for key")

	// Synthesis errors
	ErrSynthesisFailed   = errors.New("audio synthesis failed")
	ErrSynthesisTimeout  = errors.New("audio synthesis timed out")
	ErrVoiceNotAvailable = errors.New("requested voice is not available")
	ErrEngineNotReady    = errors.New("synthesis engine is not ready")

	// Download errors
	ErrDownloadFailed     = errors.New("artifact download failed")
	ErrDownloadInProgress = errors.New("download already in progress")
	ErrWiFiRequired       = errors.New("downloads restricted to WiFi by settings")
	ErrUnknownCore        = errors.New("unknown core identifier")
	ErrUnknownVoice       = errors.New("unknown voice identifier")

	// Storage errors
	ErrStorageMismatch = errors.New("installed size accounting does not match disk")

	// Controller errors
	ErrNoChapterLoaded = errors.New("no chapter loaded")
	ErrInvalidState    = errors.New("invalid state for operation")
	ErrRateOutOfRange  = errors.New("playback rate must be between 0.5 and 3.0")
	ErrShutdown        = errors.New("controller has been shut down")
)

// IsRecoverable reports whether playback can continue after err.
// Per-segment synthesis failures and cache misses are absorbed locally;
// a missing voice or engine is fatal to starting playback.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, ErrVoiceNotAvailable),
		errors.Is(err, ErrEngineNotReady),
		errors.Is(err, ErrShutdown):
		return false
	}
	return true
}

// PipelineError carries component context for an error.
type PipelineError struct {
	Err       error  // Underlying error
	Component string // Component that generated the error
	Op        string // Operation being performed
	Segment   int    // Segment index, -1 when not segment-scoped
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return e.Component + ": " + e.Op + ": " + e.Err.Error()
	}
	return e.Component + ": " + e.Op + ": unknown error"
}

// Unwrap returns the underlying error.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates an error with component context.
func NewPipelineError(err error, component, op string) *PipelineError {
	return &PipelineError{Err: err, Component: component, Op: op, Segment: -1}
}

// WithSegment attaches a segment index to the error.
func (e *PipelineError) WithSegment(index int) *PipelineError {
	e.Segment = index
	return e
}
