package engines

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"

	"github.com/narrato/narrato/tts"
)

// supertonicSampleRate is the fixed output rate of the supertonic CLI.
const supertonicSampleRate = 44100

// Supertonic runs the supertonic synthesis binary, one process per
// request, reading raw PCM16 from stdout. Voice model artifacts are
// installed by the download manager; HasVoice defers to it.
type Supertonic struct {
	binary   string
	modelDir string
	voices   []tts.Voice
	installs InstallChecker
}

func newSupertonic(cfg tts.Config, installs InstallChecker) (*Supertonic, error) {
	if installs == nil {
		return nil, fmt.Errorf("%w: supertonic requires an install checker", tts.ErrEngineNotReady)
	}
	return &Supertonic{
		binary:   "supertonic",
		modelDir: cfg.DownloadDir,
		voices: []tts.Voice{
			{ID: "st-f1", Name: "Supertonic Female 1", Language: "en-US", EngineID: "supertonic"},
			{ID: "st-m1", Name: "Supertonic Male 1", Language: "en-US", EngineID: "supertonic"},
		},
		installs: installs,
	}, nil
}

// Name returns the engine identifier.
func (e *Supertonic) Name() string { return "supertonic" }

// Synthesize converts text to audio by invoking the supertonic binary.
func (e *Supertonic) Synthesize(ctx context.Context, voiceID, text string, rate float64) (*tts.Audio, error) {
	if !e.HasVoice(voiceID) {
		return nil, fmt.Errorf("%w: %s", tts.ErrVoiceNotAvailable, voiceID)
	}

	args := []string{
		"--model-dir", e.modelDir,
		"--voice", voiceID,
		"--rate", fmt.Sprintf("%.2f", rate),
		"--output-raw",
	}
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdin = bytes.NewBufferString(text + "\n")

	start := time.Now()
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", tts.ErrSynthesisFailed, err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("%w: empty output", tts.ErrSynthesisFailed)
	}

	samples := len(output) / 2
	duration := time.Duration(float64(samples) / float64(supertonicSampleRate) * float64(time.Second))
	log.Debug("supertonic: synthesized", "voice", voiceID, "bytes", len(output),
		"audio", duration, "took", time.Since(start))

	return &tts.Audio{
		Data:       output,
		SampleRate: supertonicSampleRate,
		Channels:   1,
		Duration:   duration,
	}, nil
}

// Voices returns the voices this engine knows about.
func (e *Supertonic) Voices() []tts.Voice {
	return append([]tts.Voice(nil), e.voices...)
}

// HasVoice reports whether the voice's model artifacts are installed.
func (e *Supertonic) HasVoice(voiceID string) bool {
	for _, v := range e.voices {
		if v.ID == voiceID {
			return e.installs.VoiceReady(voiceID)
		}
	}
	return false
}

// Ready reports whether the synthesis binary is runnable.
func (e *Supertonic) Ready() bool {
	return exec.Command(e.binary, "--version").Run() == nil
}

// Shutdown releases engine resources.
func (e *Supertonic) Shutdown() error { return nil }
