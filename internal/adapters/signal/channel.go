// Package signal implements the signaling channel contract over a
// websocket connection to the relay server.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const writeWait = 5 * time.Second

// Channel is a websocket-backed core.SignalChannel for one room.
type Channel struct {
	baseURL string
	name    string
	local   domain.ParticipantID

	conn       *websocket.Conn
	send       chan []byte
	events     chan core.Message
	presenceCh chan core.PresenceEvent
	subscribed chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewChannel prepares a channel handle for room; nothing is dialed until
// Subscribe.
func NewChannel(baseURL string, room domain.RoomID, local domain.ParticipantID) *Channel {
	return &Channel{
		baseURL:    baseURL,
		name:       room.ChannelName(),
		local:      local,
		send:       make(chan []byte, 32),
		events:     make(chan core.Message, 32),
		presenceCh: make(chan core.PresenceEvent, 32),
		subscribed: make(chan struct{}),
	}
}

// Subscribe dials the relay and waits for the server to confirm the
// subscription before returning.
func (c *Channel) Subscribe(ctx context.Context) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("channel", c.name)
	q.Set("peer", string(c.local))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("channel closed")
	}
	c.conn = conn
	c.mu.Unlock()

	go c.writePump(conn)
	go c.readPump(conn)

	select {
	case <-c.subscribed:
		log.Info().Str("module", "signal").Str("channel", c.name).Msg("subscribed")
		return nil
	case <-ctx.Done():
		c.Unsubscribe()
		return ctx.Err()
	}
}

// Send publishes a broadcast message to all other channel subscribers.
func (c *Channel) Send(msg core.Message) error {
	return c.trySend(Envelope{Type: TypeBroadcast, Message: &msg})
}

// Track publishes the local presence record.
func (c *Channel) Track(rec core.PresenceRecord) error {
	return c.trySend(Envelope{Type: TypeTrack, Record: &rec})
}

func (c *Channel) Events() <-chan core.Message { return c.events }

func (c *Channel) Presence() <-chan core.PresenceEvent { return c.presenceCh }

// Unsubscribe closes the websocket and the event channels. Idempotent.
func (c *Channel) Unsubscribe() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()
		close(c.send)
		if conn != nil {
			_ = conn.Close()
		} else {
			// Never dialed; readPump will not run, close the outputs here.
			close(c.events)
			close(c.presenceCh)
		}
		log.Info().Str("module", "signal").Str("channel", c.name).Msg("unsubscribed")
	})
}

func (c *Channel) trySend(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("channel closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Channel) writePump(conn *websocket.Conn) {
	for data := range c.send {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			return
		}
	}
}

func (c *Channel) readPump(conn *websocket.Conn) {
	defer func() {
		close(c.events)
		close(c.presenceCh)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Error().Err(err).Str("module", "signal").Str("channel", c.name).Msg("readPump read error")
			}
			return
		}
		c.handle(data)
	}
}

func (c *Channel) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case TypeSubscribed:
		select {
		case <-c.subscribed:
		default:
			close(c.subscribed)
		}
	case TypeBroadcast:
		if env.Message != nil {
			select {
			case c.events <- *env.Message:
			default:
				log.Warn().Str("module", "signal").Str("channel", c.name).Msg("event dropped, consumer too slow")
			}
		}
	case TypePresence:
		if env.Presence != nil {
			select {
			case c.presenceCh <- *env.Presence:
			default:
				log.Warn().Str("module", "signal").Str("channel", c.name).Msg("presence dropped, consumer too slow")
			}
		}
	case TypeError:
		log.Warn().Str("module", "signal").Str("channel", c.name).Str("error", env.Error).Msg("server error")
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown frame")
	}
}

func (c *Channel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
