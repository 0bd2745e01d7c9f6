package signalserver

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub owns every live channel by name.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

func (h *Hub) GetOrCreate(name string) *room {
	h.mu.RLock()
	r, ok := h.rooms[name]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok = h.rooms[name]; !ok {
		r = newRoom(name)
		h.rooms[name] = r
		log.Info().Str("module", "signalserver.hub").Str("channel", name).Msg("channel created")
	}
	return r
}

// Subscribe resolves the channel for name, creating it if needed, and adds
// sub while still holding the hub lock. Lookup-then-Add as two steps would
// let a concurrent DropIfEmpty remove the channel in between, stranding the
// subscriber in a room the hub no longer serves.
func (h *Hub) Subscribe(name string, sub *subscriber) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	if !ok {
		r = newRoom(name)
		h.rooms[name] = r
		log.Info().Str("module", "signalserver.hub").Str("channel", name).Msg("channel created")
	}
	r.Add(sub)
	return r
}

// DropIfEmpty removes a channel once its last subscriber is gone.
func (h *Hub) DropIfEmpty(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[name]; ok && r.Count() == 0 {
		delete(h.rooms, name)
		log.Info().Str("module", "signalserver.hub").Str("channel", name).Msg("channel dropped")
	}
}

type ChannelInfo struct {
	Name        string `json:"name"`
	MemberCount int    `json:"client_count"`
}

func (h *Hub) List() []ChannelInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(h.rooms))
	for name, r := range h.rooms {
		out = append(out, ChannelInfo{Name: name, MemberCount: r.Count()})
	}
	return out
}
