package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/narrato/narrato/internal/cache"
)

// BenchResult holds the measurements from one benchmark run.
type BenchResult struct {
	Voice    string
	Rate     float64
	Segments int

	SynthTimes []time.Duration // Wall-clock synthesis time per segment
	AudioTimes []time.Duration // Produced audio duration per segment

	TotalSynthesis time.Duration
	TotalAudio     time.Duration
	RTF            float64 // TotalSynthesis / TotalAudio; below 1.0 is faster than real time

	Buffering BufferingReport
}

// BufferingReport describes the stalls a listener would experience if
// playback started as soon as the first segment finished synthesizing
// while the rest synthesized sequentially behind it.
type BufferingReport struct {
	Events      int           // Stall count, including the initial one
	InitialWait time.Duration // Wait before the first segment plays
	TotalWait   time.Duration // Sum of all stalls
	Waits       []time.Duration
}

// RunBenchmark measures cold synthesis for every segment of text. The
// cache is cleared first so every segment is synthesized, and each
// result is stored, leaving the cache warm for a real playback session.
// Segments are synthesized sequentially: timings stay reproducible and
// the derived buffering model is the single-worker worst case.
func RunBenchmark(ctx context.Context, engine Engine, segmenter Segmenter, audioCache *cache.AudioCache, voice, text string, rate float64) (*BenchResult, error) {
	if !engine.HasVoice(voice) {
		return nil, fmt.Errorf("%w: %s", ErrVoiceNotAvailable, voice)
	}
	segments := segmenter.Segment(text)
	if len(segments) == 0 {
		return nil, fmt.Errorf("benchmark input produced no segments")
	}
	if err := audioCache.Clear(); err != nil {
		return nil, fmt.Errorf("clear cache: %w", err)
	}

	synthRate := SynthesisRate(rate)
	result := &BenchResult{
		Voice:      voice,
		Rate:       rate,
		Segments:   len(segments),
		SynthTimes: make([]time.Duration, 0, len(segments)),
		AudioTimes: make([]time.Duration, 0, len(segments)),
	}

	log.Info("bench: starting", "voice", voice, "rate", rate, "segments", len(segments))
	for _, seg := range segments {
		start := time.Now()
		audio, err := engine.Synthesize(ctx, voice, seg.Text, synthRate)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", seg.Index, err)
		}
		took := time.Since(start)
		result.SynthTimes = append(result.SynthTimes, took)
		result.AudioTimes = append(result.AudioTimes, audio.Duration)
		result.TotalSynthesis += took
		result.TotalAudio += audio.Duration

		key := GenerateKey(voice, seg.Text, rate)
		art := &cache.Artifact{
			Data:       audio.Data,
			VoiceID:    voice,
			Rate:       synthRate,
			SampleRate: audio.SampleRate,
			Channels:   audio.Channels,
			Duration:   audio.Duration,
		}
		if err := audioCache.Store(key, art); err != nil {
			return nil, fmt.Errorf("segment %d: store: %w", seg.Index, err)
		}
		log.Debug("bench: segment", "index", seg.Index, "synth", took, "audio", audio.Duration)
	}

	if result.TotalAudio > 0 {
		result.RTF = float64(result.TotalSynthesis) / float64(result.TotalAudio)
	}
	result.Buffering = ComputeBuffering(result.AudioTimes, result.SynthTimes)
	return result, nil
}

// ComputeBuffering simulates sequential playback against sequential
// synthesis. Segment i becomes available once the first i+1 synthesis
// times have elapsed; playback of segment i starts at the later of its
// availability and the previous segment's playback end. Every time
// availability wins, the listener stalls for the difference. The wait
// for the first segment is its synthesis time and counts as a stall
// when nonzero.
func ComputeBuffering(audio, synth []time.Duration) BufferingReport {
	n := len(synth)
	if len(audio) < n {
		n = len(audio)
	}
	report := BufferingReport{Waits: make([]time.Duration, n)}
	if n == 0 {
		return report
	}

	avail := synth[0]
	report.InitialWait = avail
	report.Waits[0] = avail
	if avail > 0 {
		report.Events++
		report.TotalWait += avail
	}

	playStart := avail
	for i := 1; i < n; i++ {
		avail += synth[i]
		frontier := playStart + audio[i-1]
		if avail > frontier {
			wait := avail - frontier
			report.Waits[i] = wait
			report.Events++
			report.TotalWait += wait
			playStart = avail
		} else {
			playStart = frontier
		}
	}
	return report
}
