package rtc

import (
	"context"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycall/internal/config"
	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

// WebRTCConnection adapts a pion PeerConnection to core.MediaConnection.
// Candidates trickle out through OnICECandidate as they are gathered; the
// adapter never waits for gathering to complete.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	onICE     func(webrtc.ICECandidateInit)
	onTrack   func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onFailure func()
}

// BuildConfiguration maps CallConfig onto a pion Configuration. The STUN
// list plus the single TURN relay are passed unmodified into every link.
func BuildConfiguration(cfg config.CallConfig) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers)+1)
	for _, url := range cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	if cfg.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{cfg.TURNServer},
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNCredential,
		})
	}
	return webrtc.Configuration{
		ICEServers:           servers,
		BundlePolicy:         webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:        webrtc.RTCPMuxPolicyRequire,
		ICECandidatePoolSize: cfg.CandidatePoolSize,
	}
}

// NewAPI assembles a pion API whose media engine carries the codecs the
// capture backend produces, plus the default interceptors.
func NewAPI(configureEngine func(*webrtc.MediaEngine) error) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := configureEngine(me); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}

// Connector returns a core.MediaConnector producing pion-backed connections.
func Connector(api *webrtc.API, cfg webrtc.Configuration) core.MediaConnector {
	return func(remote domain.ParticipantID) (core.MediaConnection, error) {
		return NewWebRTCConnection(api, cfg, remote)
	}
}

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, remote domain.ParticipantID) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, remote: remote}, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateDisconnected {
			if c.onFailure != nil && !c.IsClosed() {
				c.onFailure()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("remote", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(track, receiver)
		}
	})

	return nil
}

func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, &core.NegotiationError{Step: "create offer", Err: err}
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, &core.NegotiationError{Step: "set local offer", Err: err}
	}
	return &offer, nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, &core.NegotiationError{Step: "set remote offer", Err: err}
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, &core.NegotiationError{Step: "create answer", Err: err}
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, &core.NegotiationError{Step: "set local answer", Err: err}
	}
	return &answer, nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return &core.NegotiationError{Step: "set remote answer", Err: err}
	}
	return nil
}

func (c *WebRTCConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return c.pc.AddTrack(track)
}

func (c *WebRTCConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Msg("closed")
	}
}

func (c *WebRTCConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

func (c *WebRTCConnection) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

func (c *WebRTCConnection) OnFailure(fn func()) { c.onFailure = fn }
