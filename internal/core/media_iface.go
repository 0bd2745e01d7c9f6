package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/studycircle/studycall/internal/domain"
)

// MediaConnection abstracts one negotiated peer connection.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources. Idempotent.
	Close()
	IsClosed() bool

	// CreateAndSetOffer creates an offer and sets it as local description.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer sets the remote offer, creates an answer and
	// sets it as local description.
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer sets the remote answer on an offering connection.
	ApplyAnswer(answer webrtc.SessionDescription) error
	// HasRemoteDescription reports whether the remote description is set,
	// i.e. whether the connection accepts ICE candidates directly.
	HasRemoteDescription() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error

	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnFailure sets a callback fired when the transport reports the
	// connection failed or disconnected.
	OnFailure(func())
}

// MediaConnector creates one peer connection per remote identity. The call
// core only ever sees this factory, so tests can substitute fakes for the
// pion adapter.
type MediaConnector func(remote domain.ParticipantID) (MediaConnection, error)

// MediaSource owns the local microphone/camera for one call session.
// The local media is a singleton per session: acquired once and shared
// across every peer connection that attaches tracks from it.
type MediaSource interface {
	// Initialize acquires the devices. Microphone always, camera unless
	// voiceOnly. Idempotent: a second call returns without re-requesting.
	Initialize(ctx context.Context, voiceOnly bool) error

	// Tracks returns the local tracks to attach to a peer connection.
	Tracks() []webrtc.TrackLocal

	// ToggleAudio flips the audio-enabled flag; pure local state change.
	// Returns the new enabled state.
	ToggleAudio() bool
	// ToggleVideo flips the video-enabled flag. No-op returning false when
	// no video track exists (voice-only mode).
	ToggleVideo() bool

	AudioEnabled() bool
	VideoEnabled() bool

	// AudioLevels publishes a 0-100 level sample while audio is enabled and
	// resets to 0 when it is disabled or the source stops.
	AudioLevels() <-chan int

	// Teardown stops every device track and releases the analysis resources.
	// Idempotent; must run on every exit path from a call.
	Teardown()
}
