// Package signalserver is a development relay implementing the broadcast
// and presence channel contract the call core expects from its hosted
// backend. It forwards signaling JSON only, never media.
package signalserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycall/internal/adapters/signal"
	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Hub     *Hub
	Limiter *JoinRateLimiter
}

func NewController() *Controller {
	return &Controller{
		Hub:     NewHub(),
		Limiter: NewJoinRateLimiter(10, time.Minute),
	}
}

// HandleSignal upgrades one websocket subscriber onto a named channel.
func (ctl *Controller) HandleSignal(c *gin.Context) {
	channelName := c.Query("channel")
	if channelName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing channel"})
		return
	}
	peer := domain.ParticipantID(c.Query("peer"))
	if peer == "" {
		peer = domain.ParticipantID(c.GetString("client_token"))
	}
	if !ctl.Limiter.Allow(peer) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many subscriptions"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signalserver").Msg("ws upgrade")
		return
	}

	sub := &subscriber{
		id:   peer,
		conn: ws,
		send: make(chan []byte, 32),
	}

	r := ctl.Hub.Subscribe(channelName, sub)
	log.Info().Str("module", "signalserver").Str("channel", channelName).Str("peer", string(peer)).Msg("new subscriber")

	go ctl.writePump(sub)

	// Confirm the subscription, then hand the newcomer the current roster.
	ctl.sendEnvelope(sub, signal.Envelope{Type: signal.TypeSubscribed, Channel: channelName})
	ctl.sendEnvelope(sub, signal.Envelope{
		Type:     signal.TypePresence,
		Presence: &core.PresenceEvent{Kind: core.PresenceSync, Roster: r.Roster()},
	})

	ctl.readPump(r, sub)
}

func (ctl *Controller) writePump(sub *subscriber) {
	for data := range sub.send {
		if err := sub.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			log.Error().Err(err).Str("module", "signalserver").Msg("writePump set deadline")
			return
		}
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signalserver").Msg("writePump write error")
			return
		}
	}
}

func (ctl *Controller) readPump(r *room, sub *subscriber) {
	defer func() {
		log.Info().Str("module", "signalserver").Str("peer", string(sub.id)).Msg("readPump closing")
		ctl.dropSubscriber(r, sub)
	}()

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		ctl.handleFrame(r, sub, data)
	}
}

func (ctl *Controller) handleFrame(r *room, sub *subscriber, data []byte) {
	var env signal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signalserver").Msg("bad json")
		ctl.sendEnvelope(sub, signal.Envelope{Type: signal.TypeError, Error: "bad_payload"})
		return
	}

	switch env.Type {
	case signal.TypeTrack:
		if env.Record == nil {
			ctl.sendEnvelope(sub, signal.Envelope{Type: signal.TypeError, Error: "missing record"})
			return
		}
		sub.setRecord(*env.Record)
		ctl.fanOut(r, sub.id, signal.Envelope{
			Type:     signal.TypePresence,
			Presence: &core.PresenceEvent{Kind: core.PresenceJoin, Record: *env.Record},
		})
	case signal.TypeBroadcast:
		if env.Message == nil {
			ctl.sendEnvelope(sub, signal.Envelope{Type: signal.TypeError, Error: "missing message"})
			return
		}
		ctl.fanOut(r, sub.id, env)
	default:
		log.Warn().Str("module", "signalserver").Str("type", env.Type).Msg("unknown frame")
	}
}

// fanOut delivers env to every other subscriber; subscribers that cannot
// keep up are kicked rather than allowed to stall the channel.
func (ctl *Controller) fanOut(r *room, from domain.ParticipantID, env signal.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signalserver").Msg("marshal fanout")
		return
	}
	res := r.BroadcastFrom(from, data)
	for _, slow := range res.Dropped {
		log.Warn().Str("module", "signalserver").Str("peer", string(slow)).Msg("kicking slow subscriber")
		r.mu.RLock()
		victim := r.bySID[slow]
		r.mu.RUnlock()
		if victim != nil {
			victim.Close()
		}
	}
}

func (ctl *Controller) dropSubscriber(r *room, sub *subscriber) {
	sub.Close()
	r.Remove(sub.id)
	if rec, ok := sub.presenceRecord(); ok {
		ctl.fanOut(r, sub.id, signal.Envelope{
			Type:     signal.TypePresence,
			Presence: &core.PresenceEvent{Kind: core.PresenceLeave, Record: rec},
		})
	}
	ctl.Hub.DropIfEmpty(r.name)
}

func (ctl *Controller) sendEnvelope(sub *subscriber, env signal.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signalserver").Msg("marshal envelope")
		return
	}
	_ = sub.TrySend(data)
}
