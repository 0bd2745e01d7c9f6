package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

// peerManager owns one negotiated connection per remote participant and
// runs the offer/answer/ICE exchange over the signaling channel.
//
// The offerer role is tie-broken by signaling order: whichever side's
// peer-join broadcast is observed first by a receiver becomes the offerer
// from that receiver's perspective.
type peerManager struct {
	local   domain.ParticipantID
	connect func(remote domain.ParticipantID) (core.MediaConnection, error)
	channel core.SignalChannel
	media   core.MediaSource

	registry *presence
	ice      *iceQueue

	maxReconnects int
	onPeerFailed  func(domain.ParticipantID)

	ctx context.Context

	mu       sync.Mutex
	links    map[domain.ParticipantID]*link
	attempts map[domain.ParticipantID]int
	closed   bool
}

func newPeerManager(
	ctx context.Context,
	local domain.ParticipantID,
	connect func(remote domain.ParticipantID) (core.MediaConnection, error),
	channel core.SignalChannel,
	media core.MediaSource,
	registry *presence,
	maxReconnects int,
	onPeerFailed func(domain.ParticipantID),
) *peerManager {
	return &peerManager{
		local:         local,
		connect:       connect,
		channel:       channel,
		media:         media,
		registry:      registry,
		ice:           newICEQueue(),
		maxReconnects: maxReconnects,
		onPeerFailed:  onPeerFailed,
		ctx:           ctx,
		links:         make(map[domain.ParticipantID]*link),
		attempts:      make(map[domain.ParticipantID]int),
	}
}

// HandleMessage dispatches one signaling broadcast through the state
// machine. Messages from the local identity are loop-back and dropped;
// offer, answer and candidate are pairwise, so anything not addressed to
// the local identity is someone else's negotiation and dropped too.
func (m *peerManager) HandleMessage(msg core.Message) {
	if msg.PeerID == m.local {
		return
	}
	switch msg.Event {
	case core.EventPeerJoin:
		if msg.To != "" && msg.To != m.local {
			return
		}
		m.handlePeerJoin(msg.PeerID)
	case core.EventOffer:
		if msg.To == m.local && msg.Offer != nil {
			m.handleOffer(msg.PeerID, *msg.Offer)
		}
	case core.EventAnswer:
		if msg.To == m.local && msg.Answer != nil {
			m.handleAnswer(msg.PeerID, *msg.Answer)
		}
	case core.EventICECandidate:
		if msg.To == m.local && msg.Candidate != nil {
			m.handleCandidate(msg.PeerID, *msg.Candidate)
		}
	default:
		log.Warn().Str("module", "call.peers").Str("event", string(msg.Event)).Msg("unknown signal")
	}
}

// handlePeerJoin starts the offering path for a newly announced peer.
func (m *peerManager) handlePeerJoin(remote domain.ParticipantID) {
	l, ok := m.installLink(remote)
	if !ok {
		return
	}
	l.setState(LinkOffering)

	offer, err := l.conn.CreateAndSetOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "call.peers").Str("remote", string(remote)).Msg("create offer")
		m.failLink(remote, l)
		return
	}
	if err := m.channel.Send(core.Message{Event: core.EventOffer, PeerID: m.local, To: remote, Offer: offer}); err != nil {
		log.Error().Err(err).Str("module", "call.peers").Str("remote", string(remote)).Msg("publish offer")
		m.failLink(remote, l)
		return
	}
	l.setState(LinkAwaitingAnswer)
}

// handleOffer runs the answering path for an inbound offer.
func (m *peerManager) handleOffer(remote domain.ParticipantID, offer webrtc.SessionDescription) {
	l, ok := m.installLink(remote)
	if !ok {
		return
	}
	l.setState(LinkAnswering)

	answer, err := l.conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "call.peers").Str("remote", string(remote)).Msg("apply offer")
		m.failLink(remote, l)
		return
	}
	// Remote description is set now; apply anything that arrived early.
	m.ice.Flush(remote, l.conn.AddICECandidate)

	if err := m.channel.Send(core.Message{Event: core.EventAnswer, PeerID: m.local, To: remote, Answer: answer}); err != nil {
		log.Error().Err(err).Str("module", "call.peers").Str("remote", string(remote)).Msg("publish answer")
		m.failLink(remote, l)
		return
	}
	l.setState(LinkConnected)
	m.resetAttempts(remote)
}

// handleAnswer completes the offering path.
func (m *peerManager) handleAnswer(remote domain.ParticipantID, answer webrtc.SessionDescription) {
	l := m.liveLink(remote)
	if l == nil || l.State() != LinkAwaitingAnswer {
		log.Warn().Str("module", "call.peers").Str("remote", string(remote)).Msg("answer without pending offer")
		return
	}
	if err := l.conn.ApplyAnswer(answer); err != nil {
		log.Error().Err(err).Str("module", "call.peers").Str("remote", string(remote)).Msg("apply answer")
		m.failLink(remote, l)
		return
	}
	m.ice.Flush(remote, l.conn.AddICECandidate)
	l.setState(LinkConnected)
	m.resetAttempts(remote)
}

func (m *peerManager) handleCandidate(remote domain.ParticipantID, cand webrtc.ICECandidateInit) {
	l := m.liveLink(remote)
	var conn core.MediaConnection
	if l != nil {
		conn = l.conn
	}
	m.ice.Enqueue(remote, conn, cand)
}

// installLink creates a fresh link for remote, closing and replacing any
// existing one (at most one live link per identity). Returns false when
// the manager is already shut down or the connection cannot be created.
func (m *peerManager) installLink(remote domain.ParticipantID) (*link, bool) {
	conn, err := m.connect(remote)
	if err != nil {
		log.Error().Err(err).Str("module", "call.peers").Str("remote", string(remote)).Msg("new connection")
		return nil, false
	}

	l := newLink(remote, conn)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return nil, false
	}
	if old, ok := m.links[remote]; ok {
		log.Info().Str("module", "call.peers").Str("remote", string(remote)).Msg("superseding existing link")
		old.close()
		m.ice.Drop(remote)
	}
	m.links[remote] = l
	m.mu.Unlock()

	m.bindConnection(l)

	for _, track := range m.media.Tracks() {
		if _, err := conn.AddLocalTrack(track); err != nil {
			log.Error().Err(err).Str("module", "call.peers").Str("remote", string(remote)).Msg("attach local track")
		}
	}
	if err := conn.Start(m.ctx); err != nil {
		log.Error().Err(err).Str("module", "call.peers").Str("remote", string(remote)).Msg("start connection")
		m.removeLink(remote, l)
		return nil, false
	}
	return l, true
}

// bindConnection wires the connection callbacks for one link. Every
// callback guards against the link having been superseded or closed
// before it fired (stale callback guard).
func (m *peerManager) bindConnection(l *link) {
	remote := l.remote

	l.conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if !m.isCurrent(remote, l) {
			return
		}
		if err := m.channel.Send(core.Message{Event: core.EventICECandidate, PeerID: m.local, To: remote, Candidate: &ci}); err != nil {
			log.Error().Err(err).Str("module", "call.peers").Str("remote", string(remote)).Msg("publish candidate")
		}
	})

	l.conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !m.isCurrent(remote, l) {
			return
		}
		l.stream.AddTrack(track)
		// Surface the participant as soon as one track is present; never
		// wait for video.
		audio := l.stream.HasAudio()
		video := l.stream.HasVideo()
		m.registry.Upsert(remote, domain.ParticipantPatch{
			Stream:       l.stream,
			AudioEnabled: &audio,
			VideoEnabled: &video,
		})
	})

	l.conn.OnFailure(func() {
		if !m.isCurrent(remote, l) {
			return
		}
		m.failLink(remote, l)
	})
}

// failLink drives the Reconnecting transition: under the retry bound the
// failed link is torn down and a fresh join announced; at the bound the
// peer is removed permanently and the failure surfaced.
func (m *peerManager) failLink(remote domain.ParticipantID, l *link) {
	m.mu.Lock()
	if m.closed || m.links[remote] != l {
		m.mu.Unlock()
		return
	}
	m.attempts[remote]++
	n := m.attempts[remote]
	exhausted := n >= m.maxReconnects
	if exhausted {
		delete(m.attempts, remote)
	}
	delete(m.links, remote)
	m.mu.Unlock()

	l.setState(LinkReconnecting)
	l.close()
	m.ice.Drop(remote)
	m.registry.Remove(remote)

	if exhausted {
		l.setState(LinkClosed)
		log.Warn().Str("module", "call.peers").Str("remote", string(remote)).Int("attempts", n).Msg("reconnect attempts exhausted")
		if m.onPeerFailed != nil {
			m.onPeerFailed(remote)
		}
		return
	}

	// Targeted re-announce: only the failed pair renegotiates, healthy
	// links with other peers stay up.
	log.Info().Str("module", "call.peers").Str("remote", string(remote)).Int("attempt", n).Msg("reconnecting")
	if err := m.channel.Send(core.Message{Event: core.EventPeerJoin, PeerID: m.local, To: remote}); err != nil {
		log.Error().Err(err).Str("module", "call.peers").Str("remote", string(remote)).Msg("re-announce join")
	}
}

// HandlePeerLeave closes the link for a peer that left the room.
func (m *peerManager) HandlePeerLeave(remote domain.ParticipantID) {
	m.mu.Lock()
	l, ok := m.links[remote]
	if ok {
		delete(m.links, remote)
	}
	delete(m.attempts, remote)
	m.mu.Unlock()

	if ok {
		l.close()
	}
	m.ice.Drop(remote)
	m.registry.Remove(remote)
}

// CloseAll tears down every link. Idempotent; part of the single session
// teardown path.
func (m *peerManager) CloseAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	links := m.links
	m.links = make(map[domain.ParticipantID]*link)
	m.attempts = make(map[domain.ParticipantID]int)
	m.mu.Unlock()

	for remote, l := range links {
		l.close()
		m.ice.Drop(remote)
	}
}

// LinkState reports the state of the link for remote, or LinkClosed when
// none exists.
func (m *peerManager) LinkState(remote domain.ParticipantID) LinkState {
	l := m.liveLink(remote)
	if l == nil {
		return LinkClosed
	}
	return l.State()
}

// LinkCount reports how many live links exist.
func (m *peerManager) LinkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// LinkedPeers lists every identity with a live link.
func (m *peerManager) LinkedPeers() []domain.ParticipantID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(m.links))
	for id := range m.links {
		out = append(out, id)
	}
	return out
}

func (m *peerManager) liveLink(remote domain.ParticipantID) *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[remote]
}

func (m *peerManager) isCurrent(remote domain.ParticipantID, l *link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.links[remote] == l
}

func (m *peerManager) resetAttempts(remote domain.ParticipantID) {
	m.mu.Lock()
	delete(m.attempts, remote)
	m.mu.Unlock()
}

func (m *peerManager) removeLink(remote domain.ParticipantID, l *link) {
	m.mu.Lock()
	if m.links[remote] == l {
		delete(m.links, remote)
	}
	m.mu.Unlock()
	l.close()
}
