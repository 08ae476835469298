// Package download manages installation of synthesis engine artifacts:
// shared "core" model files and the voices that depend on them. It owns
// the per-core download state machine, concurrency limits, storage
// accounting, and the WiFi-only policy gate.
package download

// CoreStatus is the lifecycle state of a downloadable core artifact.
type CoreStatus int

const (
	// StatusNotDownloaded means the core is not installed.
	StatusNotDownloaded CoreStatus = iota
	// StatusQueued means the core is waiting for a download worker.
	StatusQueued
	// StatusDownloading means bytes are being transferred.
	StatusDownloading
	// StatusExtracting means the transfer finished and the artifact is
	// being unpacked/moved into place.
	StatusExtracting
	// StatusReady means the core is installed and usable.
	StatusReady
	// StatusFailed means the last attempt errored; retry re-queues.
	StatusFailed
)

// String returns the string representation of the status.
func (s CoreStatus) String() string {
	switch s {
	case StatusNotDownloaded:
		return "not-downloaded"
	case StatusQueued:
		return "queued"
	case StatusDownloading:
		return "downloading"
	case StatusExtracting:
		return "extracting"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InFlight reports whether a download attempt is active or pending.
func (s CoreStatus) InFlight() bool {
	return s == StatusQueued || s == StatusDownloading || s == StatusExtracting
}

// CoreState is the observable state of one core artifact. Mutated only
// by the Manager; callers get copies.
type CoreState struct {
	CoreID    string
	EngineID  string
	Status    CoreStatus
	Progress  float64 // [0,1], meaningful while downloading
	SizeBytes int64   // Installed size; catalog size until installed
	Err       error   // Last error, set while Status == StatusFailed
}

// VoiceState is the derived state of a voice. Readiness is a pure
// function of the required cores; a voice never downloads on its own.
type VoiceState struct {
	VoiceID         string
	DisplayName     string
	Language        string
	EngineID        string
	RequiredCoreIDs []string
	Ready           bool
}

// Event is published on every core state change.
type Event struct {
	CoreID   string
	EngineID string
	Status   CoreStatus
	Progress float64
}
