package signalserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

func testSubscriber(id domain.ParticipantID, buffer int) *subscriber {
	return &subscriber{id: id, send: make(chan []byte, buffer)}
}

func TestSubscriberTrySendBackpressure(t *testing.T) {
	sub := testSubscriber("peer-a", 1)

	require.NoError(t, sub.TrySend([]byte("one")))
	assert.ErrorIs(t, sub.TrySend([]byte("two")), ErrBackpressure)

	<-sub.send
	assert.NoError(t, sub.TrySend([]byte("three")))
}

func TestSubscriberCloseIsIdempotent(t *testing.T) {
	sub := testSubscriber("peer-a", 1)

	sub.Close()
	sub.Close()

	assert.Error(t, sub.TrySend([]byte("late")))
	_, open := <-sub.send
	assert.False(t, open)
}

func TestBroadcastSkipsSenderAndCollectsDropped(t *testing.T) {
	r := newRoom("room:test")
	sender := testSubscriber("sender", 1)
	healthy := testSubscriber("healthy", 1)
	stuck := testSubscriber("stuck", 1)
	require.NoError(t, stuck.TrySend([]byte("fill")))

	r.Add(sender)
	r.Add(healthy)
	r.Add(stuck)

	res := r.BroadcastFrom("sender", []byte("hello"))

	assert.Equal(t, 1, res.SentTo)
	assert.Equal(t, []domain.ParticipantID{"stuck"}, res.Dropped)
	assert.Empty(t, sender.send, "sender must not receive its own broadcast")
	assert.Equal(t, []byte("hello"), <-healthy.send)
}

func TestRosterListsOnlyTrackedSubscribers(t *testing.T) {
	r := newRoom("room:test")
	tracked := testSubscriber("tracked", 1)
	tracked.setRecord(core.PresenceRecord{ID: "tracked", DisplayName: "Ada", JoinedAt: time.Now()})
	silent := testSubscriber("silent", 1)

	r.Add(tracked)
	r.Add(silent)

	roster := r.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, domain.ParticipantID("tracked"), roster[0].ID)
	assert.Equal(t, "Ada", roster[0].DisplayName)
}

func TestRoomAddRemoveCount(t *testing.T) {
	r := newRoom("room:test")
	assert.Zero(t, r.Count())

	r.Add(testSubscriber("peer-a", 1))
	r.Add(testSubscriber("peer-b", 1))
	assert.Equal(t, 2, r.Count())

	// Re-adding the same identity replaces, never duplicates.
	r.Add(testSubscriber("peer-a", 1))
	assert.Equal(t, 2, r.Count())

	r.Remove("peer-a")
	r.Remove("peer-a")
	assert.Equal(t, 1, r.Count())
}

func TestHubGetOrCreateAndDropIfEmpty(t *testing.T) {
	h := NewHub()

	r1 := h.GetOrCreate("room:a")
	r2 := h.GetOrCreate("room:a")
	assert.Same(t, r1, r2)
	require.Len(t, h.List(), 1)

	r1.Add(testSubscriber("peer-a", 1))
	h.DropIfEmpty("room:a")
	assert.Len(t, h.List(), 1, "a populated channel survives")

	r1.Remove("peer-a")
	h.DropIfEmpty("room:a")
	assert.Empty(t, h.List())
}

func TestHubSubscribeSurvivesConcurrentDrop(t *testing.T) {
	h := NewHub()

	// A channel resolved before the drop is gone by the time the late
	// subscriber would have been added to it.
	stale := h.GetOrCreate("room:a")
	h.DropIfEmpty("room:a")
	require.Empty(t, h.List())

	r := h.Subscribe("room:a", testSubscriber("peer-a", 1))

	assert.NotSame(t, stale, r, "the dropped channel must not be revived")
	list := h.List()
	require.Len(t, list, 1)
	assert.Equal(t, "room:a", list[0].Name)
	assert.Equal(t, 1, list[0].MemberCount, "the subscriber lands in the channel the hub serves")
	assert.Same(t, r, h.GetOrCreate("room:a"))
}

func TestHubListReportsMemberCounts(t *testing.T) {
	h := NewHub()
	h.GetOrCreate("room:a").Add(testSubscriber("peer-a", 1))

	list := h.List()
	require.Len(t, list, 1)
	assert.Equal(t, "room:a", list[0].Name)
	assert.Equal(t, 1, list[0].MemberCount)
}

func TestJoinRateLimiter(t *testing.T) {
	rl := NewJoinRateLimiter(2, time.Hour)

	assert.True(t, rl.Allow("peer-a"))
	assert.True(t, rl.Allow("peer-a"))
	assert.False(t, rl.Allow("peer-a"))
	assert.True(t, rl.Allow("peer-b"), "limits are per identity")
}

func TestJoinRateLimiterWindowExpiry(t *testing.T) {
	rl := NewJoinRateLimiter(1, 10*time.Millisecond)

	assert.True(t, rl.Allow("peer-a"))
	assert.False(t, rl.Allow("peer-a"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, rl.Allow("peer-a"))
}
