package call

import (
	"sync"

	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

// LinkState is the negotiation state of one peer link.
type LinkState int32

const (
	LinkIdle LinkState = iota
	LinkOffering
	LinkAwaitingAnswer
	LinkAnswering
	// LinkConnected is the logical milestone (answer accepted), distinct
	// from the transport-reported connected state used for health checks.
	LinkConnected
	LinkReconnecting
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkOffering:
		return "offering"
	case LinkAwaitingAnswer:
		return "awaiting-answer"
	case LinkAnswering:
		return "answering"
	case LinkConnected:
		return "connected"
	case LinkReconnecting:
		return "reconnecting"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// link is one managed connection to one remote participant. At most one
// live link exists per remote identity; a superseding join/offer closes
// and replaces the old one.
type link struct {
	remote domain.ParticipantID
	conn   core.MediaConnection
	stream *domain.RemoteStream

	mu    sync.Mutex
	state LinkState
}

func newLink(remote domain.ParticipantID, conn core.MediaConnection) *link {
	return &link{
		remote: remote,
		conn:   conn,
		stream: domain.NewRemoteStream(),
		state:  LinkIdle,
	}
}

func (l *link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *link) setState(s LinkState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// close moves the link to its terminal state and releases the connection.
// Safe to call from any state, including mid-negotiation.
func (l *link) close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	l.mu.Unlock()
	l.conn.Close()
}
