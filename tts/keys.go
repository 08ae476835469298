package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// KeyVersion is prefixed to every cache key so the key scheme can be
// changed without colliding with entries written by older builds.
const KeyVersion = "v1"

// Playback rate bounds accepted by the pipeline.
const (
	MinPlaybackRate = 0.5
	MaxPlaybackRate = 3.0
)

// synthesisRateSteps are the rates audio is actually synthesized at.
// Playback rates are bucketed down to the nearest step so that users at
// 1.1x and 1.2x share one cached artifact instead of fragmenting the
// cache per exact rate. The table is append-only: changing existing
// steps would orphan every cached artifact keyed under them.
var synthesisRateSteps = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0, 2.5, 3.0}

// SynthesisRate maps a continuous playback rate to the synthesis rate
// bucket used for cache keys. Monotonic: a higher playback rate never
// maps to a lower bucket. Rates outside the supported range clamp to
// the nearest bound.
func SynthesisRate(playbackRate float64) float64 {
	if playbackRate <= synthesisRateSteps[0] {
		return synthesisRateSteps[0]
	}
	bucket := synthesisRateSteps[0]
	for _, step := range synthesisRateSteps {
		if step <= playbackRate {
			bucket = step
		}
	}
	return bucket
}

// SynthesisRateSteps returns a copy of the bucket table.
func SynthesisRateSteps() []float64 {
	steps := make([]float64, len(synthesisRateSteps))
	copy(steps, synthesisRateSteps)
	return steps
}

// GenerateKey derives the deterministic cache key for a synthesis
// request. The text is significant verbatim: whitespace and case
// differences produce distinct keys. The playback rate participates
// only through its synthesis bucket, so all rates in one bucket hit the
// same cached artifact.
func GenerateKey(voiceID, text string, playbackRate float64) string {
	rate := SynthesisRate(playbackRate)
	input := fmt.Sprintf("%s|%s|%.2f", voiceID, text, rate)
	sum := sha256.Sum256([]byte(input))
	return KeyVersion + "_" + hex.EncodeToString(sum[:])
}
