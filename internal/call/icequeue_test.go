package call

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studycircle/studycall/internal/domain"
)

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestICEQueueBuffersUntilFlush(t *testing.T) {
	q := newICEQueue()
	remote := domain.ParticipantID("peer-a")

	q.Enqueue(remote, nil, candidate("c1"))
	q.Enqueue(remote, nil, candidate("c2"))
	q.Enqueue(remote, nil, candidate("c3"))
	require.Equal(t, 3, q.Len(remote))

	var applied []string
	q.Flush(remote, func(ci webrtc.ICECandidateInit) error {
		applied = append(applied, ci.Candidate)
		return nil
	})

	assert.Equal(t, []string{"c1", "c2", "c3"}, applied, "candidates must apply in arrival order")
	assert.Zero(t, q.Len(remote), "flush must empty the queue")
}

func TestICEQueueAppliesDirectlyWithRemoteDescription(t *testing.T) {
	q := newICEQueue()
	remote := domain.ParticipantID("peer-a")
	conn := &fakeConn{remoteDesc: true}

	q.Enqueue(remote, conn, candidate("direct"))

	require.Len(t, conn.appliedCandidates(), 1)
	assert.Equal(t, "direct", conn.appliedCandidates()[0].Candidate)
	assert.Zero(t, q.Len(remote))
}

func TestICEQueueBuffersWithoutRemoteDescription(t *testing.T) {
	q := newICEQueue()
	remote := domain.ParticipantID("peer-a")
	conn := &fakeConn{}

	q.Enqueue(remote, conn, candidate("early"))

	assert.Empty(t, conn.appliedCandidates())
	assert.Equal(t, 1, q.Len(remote))
}

func TestICEQueueFlushSkipsFailedCandidate(t *testing.T) {
	q := newICEQueue()
	remote := domain.ParticipantID("peer-a")

	q.Enqueue(remote, nil, candidate("bad"))
	q.Enqueue(remote, nil, candidate("good"))

	var applied []string
	q.Flush(remote, func(ci webrtc.ICECandidateInit) error {
		if ci.Candidate == "bad" {
			return errors.New("rejected")
		}
		applied = append(applied, ci.Candidate)
		return nil
	})

	assert.Equal(t, []string{"good"}, applied, "one bad candidate must not abort the flush")
	assert.Zero(t, q.Len(remote))
}

func TestICEQueueDropDiscards(t *testing.T) {
	q := newICEQueue()
	remote := domain.ParticipantID("peer-a")
	other := domain.ParticipantID("peer-b")

	q.Enqueue(remote, nil, candidate("c1"))
	q.Enqueue(other, nil, candidate("c2"))

	q.Drop(remote)

	assert.Zero(t, q.Len(remote))
	assert.Equal(t, 1, q.Len(other), "drop must be scoped to one remote")

	q.Flush(remote, func(webrtc.ICECandidateInit) error {
		t.Fatal("dropped candidates must never apply")
		return nil
	})
}
