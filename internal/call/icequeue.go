package call

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

// iceQueue buffers remote ICE candidates that arrive before the link they
// belong to has a remote description. Scoped to one session; entries are
// discarded, not re-queued, when the owning link is destroyed.
type iceQueue struct {
	mu      sync.Mutex
	pending map[domain.ParticipantID][]webrtc.ICECandidateInit
}

func newICEQueue() *iceQueue {
	return &iceQueue{pending: make(map[domain.ParticipantID][]webrtc.ICECandidateInit)}
}

// Enqueue applies the candidate directly when conn already has a remote
// description, otherwise buffers it in arrival order.
func (q *iceQueue) Enqueue(remote domain.ParticipantID, conn core.MediaConnection, cand webrtc.ICECandidateInit) {
	if conn != nil && conn.HasRemoteDescription() {
		if err := conn.AddICECandidate(cand); err != nil {
			log.Error().Err(err).Str("module", "call.ice").Str("remote", string(remote)).Msg("apply candidate")
		}
		return
	}
	q.mu.Lock()
	q.pending[remote] = append(q.pending[remote], cand)
	q.mu.Unlock()
}

// Flush applies every buffered candidate for remote in arrival order and
// clears the queue. A single candidate failing to apply is logged and
// skipped, never aborts the flush.
func (q *iceQueue) Flush(remote domain.ParticipantID, apply func(webrtc.ICECandidateInit) error) {
	q.mu.Lock()
	buffered := q.pending[remote]
	delete(q.pending, remote)
	q.mu.Unlock()

	for _, cand := range buffered {
		if err := apply(cand); err != nil {
			log.Error().Err(err).Str("module", "call.ice").Str("remote", string(remote)).Msg("apply buffered candidate")
		}
	}
}

// Drop discards any buffered candidates for remote.
func (q *iceQueue) Drop(remote domain.ParticipantID) {
	q.mu.Lock()
	delete(q.pending, remote)
	q.mu.Unlock()
}

// Len reports how many candidates are buffered for remote.
func (q *iceQueue) Len(remote domain.ParticipantID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[remote])
}
