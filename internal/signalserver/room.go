package signalserver

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// subscriber is one websocket connection inside a channel.
type subscriber struct {
	id   domain.ParticipantID
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	closed  bool
	tracked bool
	record  core.PresenceRecord
}

func (s *subscriber) TrySend(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("connection closed")
	}
	select {
	case s.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (s *subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
}

func (s *subscriber) setRecord(rec core.PresenceRecord) {
	s.mu.Lock()
	s.tracked = true
	s.record = rec
	s.mu.Unlock()
}

func (s *subscriber) presenceRecord() (core.PresenceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record, s.tracked
}

// PublishResult reports delivery stats/backpressure to the controller.
type PublishResult struct {
	SentTo  int
	Dropped []domain.ParticipantID
}

// room is a threadsafe named broadcast+presence channel. It never closes
// subscriber-owned resources.
type room struct {
	name string

	mu    sync.RWMutex
	bySID map[domain.ParticipantID]*subscriber
}

func newRoom(name string) *room {
	return &room{name: name, bySID: make(map[domain.ParticipantID]*subscriber)}
}

func (r *room) Add(sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sub.id] = sub
	log.Info().Str("module", "signalserver.room").Str("channel", r.name).Str("peer", string(sub.id)).Msg("subscriber added")
}

func (r *room) Remove(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySID, id)
	log.Info().Str("module", "signalserver.room").Str("channel", r.name).Str("peer", string(id)).Msg("subscriber removed")
}

func (r *room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

// BroadcastFrom fans data out to every subscriber except from.
func (r *room) BroadcastFrom(from domain.ParticipantID, data []byte) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, sub := range r.bySID {
		if id == from {
			continue
		}
		if err := sub.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "signalserver.room").Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Roster lists the presence records of every tracked subscriber.
func (r *room) Roster() []core.PresenceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.PresenceRecord, 0, len(r.bySID))
	for _, sub := range r.bySID {
		if rec, ok := sub.presenceRecord(); ok {
			out = append(out, rec)
		}
	}
	return out
}
