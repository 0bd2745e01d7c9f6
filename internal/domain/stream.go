package domain

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// RemoteStream accumulates the media tracks received from one remote
// participant. A participant is surfaced as soon as the first track is
// present; audio-only calls never see a video track here.
type RemoteStream struct {
	mu     sync.RWMutex
	tracks []*webrtc.TrackRemote
}

func NewRemoteStream() *RemoteStream {
	return &RemoteStream{}
}

func (s *RemoteStream) AddTrack(t *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) HasAudio() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			return true
		}
	}
	return false
}

func (s *RemoteStream) HasVideo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return true
		}
	}
	return false
}
