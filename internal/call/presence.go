package call

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

// presence is the canonical participant registry for one session. It is the
// only owner of Participant records; the peer manager reports events into
// it and never holds a separate copy.
//
// Updates arrive from independent event sources (presence events, track
// callbacks), so Upsert merges per field instead of overwriting: a
// metadata-only patch never drops a previously set stream.
type presence struct {
	mu     sync.RWMutex
	byID   map[domain.ParticipantID]*domain.Participant
	onJoin func(domain.ParticipantID)
	onLeft func(domain.ParticipantID)
}

func newPresence() *presence {
	return &presence{byID: make(map[domain.ParticipantID]*domain.Participant)}
}

// Upsert creates or patches the participant for id. Nil patch fields leave
// the current value untouched (last write wins per field).
func (p *presence) Upsert(id domain.ParticipantID, patch domain.ParticipantPatch) {
	p.mu.Lock()
	entry, existed := p.byID[id]
	if !existed {
		entry = &domain.Participant{ID: id}
		p.byID[id] = entry
	}
	if patch.DisplayName != nil {
		entry.DisplayName = *patch.DisplayName
	}
	if patch.Stream != nil {
		entry.Stream = patch.Stream
	}
	if patch.AudioEnabled != nil {
		entry.AudioEnabled = *patch.AudioEnabled
	}
	if patch.VideoEnabled != nil {
		entry.VideoEnabled = *patch.VideoEnabled
	}
	p.mu.Unlock()

	if !existed {
		log.Info().Str("module", "call.presence").Str("participant", string(id)).Msg("participant added")
		if p.onJoin != nil {
			p.onJoin(id)
		}
	}
}

// Remove deletes the participant for id. Reports whether it existed.
func (p *presence) Remove(id domain.ParticipantID) bool {
	p.mu.Lock()
	_, existed := p.byID[id]
	delete(p.byID, id)
	p.mu.Unlock()

	if existed {
		log.Info().Str("module", "call.presence").Str("participant", string(id)).Msg("participant removed")
		if p.onLeft != nil {
			p.onLeft(id)
		}
	}
	return existed
}

// Get returns a copy of the participant record for id.
func (p *presence) Get(id domain.ParticipantID) (domain.Participant, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.byID[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *entry, true
}

// Snapshot returns a copy of every participant, for UI consumption.
func (p *presence) Snapshot() []domain.Participant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Participant, 0, len(p.byID))
	for _, entry := range p.byID {
		out = append(out, *entry)
	}
	return out
}

// Clear empties the registry without firing leave callbacks. Used by the
// session teardown path.
func (p *presence) Clear() {
	p.mu.Lock()
	p.byID = make(map[domain.ParticipantID]*domain.Participant)
	p.mu.Unlock()
}

// applySync upserts every roster member and returns the identities known
// locally but absent from the roster. Departures are returned rather than
// removed here: the caller owns their full teardown, which covers the peer
// link and ICE buffer as well as this registry.
func (p *presence) applySync(roster []core.PresenceRecord, local domain.ParticipantID) []domain.ParticipantID {
	seen := make(map[domain.ParticipantID]bool, len(roster))
	for _, rec := range roster {
		if rec.ID == local {
			continue
		}
		seen[rec.ID] = true
		name := rec.DisplayName
		p.Upsert(rec.ID, domain.ParticipantPatch{DisplayName: &name})
	}

	p.mu.RLock()
	var gone []domain.ParticipantID
	for id := range p.byID {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	p.mu.RUnlock()
	return gone
}
