// Package audio provides playback sinks for synthesized audio.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/narrato/narrato/tts"
)

// Sink plays PCM16 audio through the system audio device using oto.
// Implements tts.AudioSink.
type Sink struct {
	context *oto.Context

	mu       sync.Mutex
	player   *oto.Player
	playing  bool
	paused   bool
	done     chan struct{}
	stopPoll chan struct{}

	sampleRate int
	channels   int
}

// NewSink creates a sink for the given PCM format. The oto context is
// created once; all clips must share the format.
func NewSink(sampleRate, channels int) (*Sink, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, errors.New("audio: invalid sink format")
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("audio: create oto context: %w", err)
	}
	<-ready
	return &Sink{
		context:    ctx,
		sampleRate: sampleRate,
		channels:   channels,
		done:       closedChan(),
	}, nil
}

// Play starts playing the clip. rate is the playback rate multiplier
// relative to the clip's synthesis rate; residual speed-up is applied
// by resampling, so audio cached at a nearby rate bucket stays usable.
func (s *Sink) Play(audio *tts.Audio, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playing && !s.paused {
		return errors.New("audio: already playing")
	}
	s.stopLocked()

	data := audio.Data
	if rate > 0 && rate != 1.0 {
		data = ResamplePCM16(data, rate)
	}

	s.player = s.context.NewPlayer(bytes.NewReader(data))
	s.player.Play()
	s.playing = true
	s.paused = false
	s.done = make(chan struct{})
	s.stopPoll = make(chan struct{})
	go s.poll(s.player, s.done, s.stopPoll)
	return nil
}

// poll closes done when the player drains.
func (s *Sink) poll(p *oto.Player, done, stop chan struct{}) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			// A Stop racing the ticker may have closed done already;
			// only the clip that still owns s.done may close it.
			finished := s.done == done && s.playing && !s.paused && !p.IsPlaying()
			if finished {
				s.playing = false
			}
			s.mu.Unlock()
			if finished {
				close(done)
				return
			}
		}
	}
}

// Pause temporarily stops playback.
func (s *Sink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || s.paused {
		return errors.New("audio: not playing")
	}
	s.player.Pause()
	s.paused = true
	return nil
}

// Resume continues paused playback.
func (s *Sink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return errors.New("audio: not paused")
	}
	s.player.Play()
	s.paused = false
	return nil
}

// Stop halts playback and discards the current clip.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

// stopLocked must be called with the lock held.
func (s *Sink) stopLocked() {
	if s.stopPoll != nil {
		close(s.stopPoll)
		s.stopPoll = nil
	}
	if s.player != nil {
		_ = s.player.Close()
		s.player = nil
	}
	if s.playing {
		s.playing = false
		close(s.done)
	}
	s.paused = false
}

// IsPlaying reports whether audio is currently playing.
func (s *Sink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && !s.paused
}

// Done returns a channel closed when the current clip finishes.
func (s *Sink) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// ResamplePCM16 time-compresses or stretches mono PCM16 by the given
// factor using linear interpolation. factor > 1 speeds playback up.
// Pitch shifts with rate; acceptable for speech at the residual factors
// left after rate bucketing.
func ResamplePCM16(data []byte, factor float64) []byte {
	if factor <= 0 || factor == 1.0 || len(data) < 4 {
		return data
	}
	samples := len(data) / 2
	outSamples := int(float64(samples) / factor)
	if outSamples < 1 {
		outSamples = 1
	}
	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		pos := float64(i) * factor
		idx := int(pos)
		if idx >= samples-1 {
			idx = samples - 2
		}
		frac := pos - float64(idx)
		a := int16(binary.LittleEndian.Uint16(data[idx*2 : idx*2+2]))
		b := int16(binary.LittleEndian.Uint16(data[(idx+1)*2 : (idx+1)*2+2]))
		mixed := int16(float64(a)*(1-frac) + float64(b)*frac)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(mixed))
	}
	return out
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
