// Package engines provides synthesis engine construction.
package engines

import (
	"fmt"

	"github.com/narrato/narrato/tts"
	"github.com/narrato/narrato/tts/engines/mock"
)

// InstallChecker answers whether a voice's artifacts are installed.
// The download manager satisfies this.
type InstallChecker interface {
	VoiceReady(voiceID string) bool
}

// New constructs the engine named by the configuration.
func New(cfg tts.Config, installs InstallChecker) (tts.Engine, error) {
	switch cfg.Engine {
	case "mock":
		return mock.New(), nil
	case "supertonic":
		return newSupertonic(cfg, installs)
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", tts.ErrEngineNotReady, cfg.Engine)
	}
}
