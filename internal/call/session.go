// Package call implements the mesh call core of a study room: presence
// tracking, the per-peer offer/answer/ICE state machine and the session
// orchestrator a room view binds to.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

var ErrSessionClosed = errors.New("session closed")

type NoticeKind int

const (
	NoticeDeviceError NoticeKind = iota
	NoticeSubscribeError
	NoticePeerFailed
)

// Notice is a call-wide event surfaced to the user-visible layer.
// Per-link errors are absorbed by the state machine and never reach here.
type Notice struct {
	Kind NoticeKind
	Peer domain.ParticipantID
	Err  error
}

// Deps wires a Session. Channels returns the signaling channel for a room;
// Connector produces one peer connection per remote identity.
type Deps struct {
	Local         domain.ParticipantID
	DisplayName   string
	Media         core.MediaSource
	Channels      func(room domain.RoomID) core.SignalChannel
	Connector     core.MediaConnector
	MaxReconnects int

	// Optional membership observers, fired when a remote participant enters
	// or leaves the registry. Invoked from session goroutines; keep them
	// fast and non-blocking.
	OnPeerJoined func(id domain.ParticipantID)
	OnPeerLeft   func(id domain.ParticipantID)
}

// Session is the top-level coordinator for one room call. All registries
// are instance fields with explicit lifecycle, so multiple rooms and tests
// can coexist in one process. A Session is single use: once left it stays
// closed.
type Session struct {
	deps     Deps
	registry *presence
	notices  chan Notice

	mu      sync.Mutex
	joined  bool
	closed  bool
	cancel  context.CancelFunc
	channel core.SignalChannel
	peers   *peerManager
	done    chan struct{}
}

func NewSession(deps Deps) *Session {
	if deps.MaxReconnects <= 0 {
		deps.MaxReconnects = 3
	}
	registry := newPresence()
	registry.onJoin = deps.OnPeerJoined
	registry.onLeft = deps.OnPeerLeft
	return &Session{
		deps:     deps,
		registry: registry,
		notices:  make(chan Notice, 8),
	}
}

// Join acquires local media, subscribes the room's signaling channel,
// publishes presence and announces this peer. It returns once local media
// is ready; remote participants populate asynchronously.
func (s *Session) Join(ctx context.Context, room domain.RoomID, voiceOnly bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.joined {
		s.mu.Unlock()
		return errors.New("already joined")
	}
	s.joined = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	// Device failure is fatal to the whole join, never retried silently.
	if err := s.deps.Media.Initialize(ctx, voiceOnly); err != nil {
		err = fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
		s.notify(Notice{Kind: NoticeDeviceError, Err: err})
		s.abortJoin(nil)
		return err
	}
	if s.isClosed() {
		// Leave already ran; it tore the media back down.
		s.abortJoin(nil)
		return ErrSessionClosed
	}

	channel := s.deps.Channels(room)
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()

	// Subscription failure aborts the join but stays retryable: media is
	// kept (Initialize is idempotent) and the session is not closed.
	if err := channel.Subscribe(ctx); err != nil {
		err = fmt.Errorf("%w: %v", core.ErrSubscribe, err)
		s.notify(Notice{Kind: NoticeSubscribeError, Err: err})
		s.abortJoin(channel)
		return err
	}
	if s.isClosed() {
		s.abortJoin(channel)
		return ErrSessionClosed
	}

	peers := newPeerManager(
		ctx,
		s.deps.Local,
		s.deps.Connector,
		channel,
		s.deps.Media,
		s.registry,
		s.deps.MaxReconnects,
		func(id domain.ParticipantID) {
			s.notify(Notice{Kind: NoticePeerFailed, Peer: id})
		},
	)
	done := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		peers.CloseAll()
		s.abortJoin(channel)
		return ErrSessionClosed
	}
	s.peers = peers
	s.done = done
	s.mu.Unlock()

	go s.run(ctx, channel, peers, done)

	if err := channel.Track(core.PresenceRecord{
		ID:          s.deps.Local,
		DisplayName: s.deps.DisplayName,
		JoinedAt:    time.Now(),
	}); err != nil {
		log.Error().Err(err).Str("module", "call.session").Msg("track presence")
	}
	if err := channel.Send(core.Message{Event: core.EventPeerJoin, PeerID: s.deps.Local}); err != nil {
		log.Error().Err(err).Str("module", "call.session").Msg("announce peer-join")
	}

	log.Info().Str("module", "call.session").Str("room", string(room)).Str("local", string(s.deps.Local)).Msg("joined")
	return nil
}

// run dispatches signaling broadcasts and presence events until the
// channel closes or the session leaves.
func (s *Session) run(ctx context.Context, channel core.SignalChannel, peers *peerManager, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-channel.Events():
			if !ok {
				return
			}
			peers.HandleMessage(msg)
		case ev, ok := <-channel.Presence():
			if !ok {
				return
			}
			s.handlePresence(ev, peers)
		}
	}
}

func (s *Session) handlePresence(ev core.PresenceEvent, peers *peerManager) {
	switch ev.Kind {
	case core.PresenceJoin:
		if ev.Record.ID == s.deps.Local {
			return
		}
		name := ev.Record.DisplayName
		s.registry.Upsert(ev.Record.ID, domain.ParticipantPatch{DisplayName: &name})
	case core.PresenceLeave:
		if ev.Record.ID == s.deps.Local {
			return
		}
		peers.HandlePeerLeave(ev.Record.ID)
	case core.PresenceSync:
		// Roster reconciliation mirrors an explicit leave: any identity
		// missing from the sync gets its link closed, not just its
		// registry entry. Links are checked too since a peer can be mid
		// negotiation before its first presence record lands.
		present := make(map[domain.ParticipantID]bool, len(ev.Roster))
		for _, rec := range ev.Roster {
			present[rec.ID] = true
		}
		for _, id := range s.registry.applySync(ev.Roster, s.deps.Local) {
			peers.HandlePeerLeave(id)
		}
		for _, id := range peers.LinkedPeers() {
			if !present[id] {
				peers.HandlePeerLeave(id)
			}
		}
	}
}

// Leave is the single teardown path: closes every link, unsubscribes the
// channel, tears down media and clears the registry. Safe to call from any
// point, including mid-join, and safe to call more than once.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	channel := s.channel
	peers := s.peers
	done := s.done
	s.cancel, s.channel, s.peers, s.done = nil, nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if peers != nil {
		peers.CloseAll()
	}
	if channel != nil {
		channel.Unsubscribe()
	}
	s.deps.Media.Teardown()
	s.registry.Clear()
	if done != nil {
		<-done
	}
	log.Info().Str("module", "call.session").Str("local", string(s.deps.Local)).Msg("left")
}

// ToggleMic flips the local microphone; pure local effect, no renegotiation.
func (s *Session) ToggleMic() bool { return s.deps.Media.ToggleAudio() }

// ToggleCamera flips the local camera; no-op in voice-only mode.
func (s *Session) ToggleCamera() bool { return s.deps.Media.ToggleVideo() }

// Participants returns a snapshot of the remote participants.
func (s *Session) Participants() []domain.Participant { return s.registry.Snapshot() }

// AudioLevels exposes the local audio level meter.
func (s *Session) AudioLevels() <-chan int { return s.deps.Media.AudioLevels() }

// Notices delivers call-wide errors: device failure, subscription failure,
// retry exhaustion for a peer.
func (s *Session) Notices() <-chan Notice { return s.notices }

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		log.Warn().Str("module", "call.session").Msg("notice dropped")
	}
}

// abortJoin unwinds a failed or superseded Join attempt without closing
// the session, so a later Join can retry. Media is left alone: either it
// survives for the retry or Leave already tore it down.
func (s *Session) abortJoin(channel core.SignalChannel) {
	s.mu.Lock()
	s.joined = false
	cancel := s.cancel
	s.cancel = nil
	if s.channel == channel {
		s.channel = nil
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if channel != nil {
		channel.Unsubscribe()
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
