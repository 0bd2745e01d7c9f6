// Package media owns the local microphone/camera for a call session and
// the audio-level metering derived from it.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// capture is what a platform backend hands back: the local tracks, an
// optional PCM tap feeding the level meter, and a stop function.
type capture struct {
	tracks   []webrtc.TrackLocal
	hasVideo bool
	pcm      <-chan []int16
	stop     func()
}

// Source implements core.MediaSource. The acquired tracks are a singleton
// per session, shared by reference across every peer connection.
type Source struct {
	meter *Meter

	mu          sync.Mutex
	initialized bool
	torn        bool
	tracks      []webrtc.TrackLocal
	hasVideo    bool
	audioOn     bool
	videoOn     bool
	stopCapture func()
}

func NewSource() *Source {
	return &Source{meter: NewMeter()}
}

// Initialize acquires microphone always and camera unless voiceOnly.
// Idempotent: a second call returns without touching the devices again.
func (s *Source) Initialize(ctx context.Context, voiceOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return errors.New("media source already released")
	}
	if s.initialized {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c, err := openCapture(voiceOnly)
	if err != nil {
		return err
	}

	s.initialized = true
	s.tracks = c.tracks
	s.hasVideo = c.hasVideo
	s.stopCapture = c.stop
	s.audioOn = true
	s.videoOn = c.hasVideo

	s.meter.Start(c.pcm)
	log.Info().Str("module", "media").Bool("voice_only", voiceOnly).Int("tracks", len(c.tracks)).Msg("local media initialized")
	return nil
}

func (s *Source) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webrtc.TrackLocal, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// ToggleAudio flips the audio-enabled flag. Pure local state change; the
// meter stops publishing and resets while disabled.
func (s *Source) ToggleAudio() bool {
	s.mu.Lock()
	if !s.initialized || s.torn {
		s.mu.Unlock()
		return false
	}
	s.audioOn = !s.audioOn
	on := s.audioOn
	s.mu.Unlock()

	s.meter.SetEnabled(on)
	log.Info().Str("module", "media").Bool("enabled", on).Msg("audio toggled")
	return on
}

// ToggleVideo flips the video-enabled flag. No-op reporting disabled when
// no video track exists (voice-only mode).
func (s *Source) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.torn || !s.hasVideo {
		return false
	}
	s.videoOn = !s.videoOn
	log.Info().Str("module", "media").Bool("enabled", s.videoOn).Msg("video toggled")
	return s.videoOn
}

func (s *Source) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

func (s *Source) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

func (s *Source) AudioLevels() <-chan int { return s.meter.Levels() }

// Teardown stops every device track and the level meter. Idempotent; runs
// on every exit path from a call.
func (s *Source) Teardown() {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	stop := s.stopCapture
	s.stopCapture = nil
	s.tracks = nil
	s.audioOn = false
	s.videoOn = false
	s.mu.Unlock()

	s.meter.Stop()
	if stop != nil {
		stop()
	}
	log.Info().Str("module", "media").Msg("local media released")
}
