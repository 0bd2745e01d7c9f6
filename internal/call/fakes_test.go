package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

// fakeConn is a scriptable core.MediaConnection. Descriptions are canned
// SDP strings; candidate application is recorded in arrival order.
type fakeConn struct {
	mu         sync.Mutex
	started    bool
	closed     bool
	remoteDesc bool
	applied    []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal

	offerErr  error
	answerErr error
	applyErr  error
	candErr   error

	onICE     func(webrtc.ICECandidateInit)
	onTrack   func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onFailure func()
}

func (c *fakeConn) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offerErr != nil {
		return nil, c.offerErr
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (c *fakeConn) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return nil, c.answerErr
	}
	c.remoteDesc = true
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (c *fakeConn) ApplyAnswer(webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applyErr != nil {
		return c.applyErr
	}
	c.remoteDesc = true
	return nil
}

func (c *fakeConn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDesc
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candErr != nil {
		return c.candErr
	}
	c.applied = append(c.applied, ci)
	return nil
}

func (c *fakeConn) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return nil, nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *fakeConn) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *fakeConn) OnFailure(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailure = fn
}

func (c *fakeConn) fireTrack(track *webrtc.TrackRemote) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(track, nil)
	}
}

func (c *fakeConn) fireFailure() {
	c.mu.Lock()
	fn := c.onFailure
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeConn) appliedCandidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(c.applied))
	copy(out, c.applied)
	return out
}

// connFactory hands out fakeConns and remembers them in creation order.
type connFactory struct {
	mu      sync.Mutex
	created []*fakeConn
	err     error
}

func (f *connFactory) connect(domain.ParticipantID) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{}
	f.created = append(f.created, c)
	return c, nil
}

func (f *connFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func (f *connFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// fakeChannel is an in-memory core.SignalChannel. Sent messages accumulate
// in order; tests feed events and presence through the exposed channels.
type fakeChannel struct {
	mu           sync.Mutex
	sent         []core.Message
	tracked      []core.PresenceRecord
	subscribed   bool
	unsubscribes int

	subscribeErr error
	sendErr      error

	events     chan core.Message
	presenceCh chan core.PresenceEvent
	closeOnce  sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events:     make(chan core.Message, 16),
		presenceCh: make(chan core.PresenceEvent, 16),
	}
}

func (c *fakeChannel) Subscribe(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subscribed = true
	return nil
}

func (c *fakeChannel) Send(msg core.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Track(rec core.PresenceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = append(c.tracked, rec)
	return nil
}

func (c *fakeChannel) Events() <-chan core.Message         { return c.events }
func (c *fakeChannel) Presence() <-chan core.PresenceEvent { return c.presenceCh }

func (c *fakeChannel) Unsubscribe() {
	c.mu.Lock()
	c.unsubscribes++
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		close(c.events)
		close(c.presenceCh)
	})
}

func (c *fakeChannel) sentMessages() []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeChannel) sentByEvent(kind core.EventKind) []core.Message {
	var out []core.Message
	for _, msg := range c.sentMessages() {
		if msg.Event == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (c *fakeChannel) unsubscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes
}

// fakeMedia is a minimal core.MediaSource with scriptable failure.
type fakeMedia struct {
	mu        sync.Mutex
	initErr   error
	inits     int
	teardowns int
	hasVideo  bool
	audioOn   bool
	videoOn   bool
	levels    chan int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{levels: make(chan int, 1)}
}

func (m *fakeMedia) Initialize(_ context.Context, voiceOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initErr != nil {
		return m.initErr
	}
	if m.inits == 0 {
		m.hasVideo = !voiceOnly
		m.audioOn = true
		m.videoOn = m.hasVideo
	}
	m.inits++
	return nil
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

func (m *fakeMedia) ToggleAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioOn = !m.audioOn
	return m.audioOn
}

func (m *fakeMedia) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasVideo {
		return false
	}
	m.videoOn = !m.videoOn
	return m.videoOn
}

func (m *fakeMedia) AudioEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioOn
}

func (m *fakeMedia) VideoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoOn
}

func (m *fakeMedia) AudioLevels() <-chan int { return m.levels }

func (m *fakeMedia) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardowns++
}

func (m *fakeMedia) teardownCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardowns
}
