package signal

import "github.com/studycircle/studycall/internal/core"

// Envelope is the websocket frame exchanged with the relay server.
// Exactly one payload field is set, matching Type.
type Envelope struct {
	Type string `json:"type"`

	Channel  string               `json:"channel,omitempty"`
	Message  *core.Message        `json:"message,omitempty"`
	Record   *core.PresenceRecord `json:"record,omitempty"`
	Presence *core.PresenceEvent  `json:"presence,omitempty"`
	Error    string               `json:"error,omitempty"`
}

const (
	// client → server
	TypeBroadcast = "broadcast"
	TypeTrack     = "track"

	// server → client
	TypeSubscribed = "subscribed"
	TypePresence   = "presence"
	TypeError      = "error"
)
