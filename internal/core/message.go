package core

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/studycircle/studycall/internal/domain"
)

// EventKind names a broadcast event on a room's signaling channel.
type EventKind string

const (
	EventPeerJoin     EventKind = "peer-join"
	EventOffer        EventKind = "offer"
	EventAnswer       EventKind = "answer"
	EventICECandidate EventKind = "ice-candidate"
)

// Message is one signaling broadcast. Exactly one of Offer, Answer or
// Candidate is set, matching Event.
//
// The transport is broadcast-only, so directed negotiation events carry the
// recipient in To and every other receiver drops them: offer, answer and
// ice-candidate are always addressed to one peer. A peer-join with an empty
// To is a room-wide announce; with To set it restarts one link only.
type Message struct {
	Event     EventKind                  `json:"event"`
	PeerID    domain.ParticipantID       `json:"peerId"`
	To        domain.ParticipantID       `json:"to,omitempty"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// PresenceRecord is the record a participant publishes when tracking
// presence on a channel.
type PresenceRecord struct {
	ID          domain.ParticipantID `json:"peerId"`
	DisplayName string               `json:"displayName"`
	JoinedAt    time.Time            `json:"joinedAt"`
}

type PresenceKind string

const (
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
	PresenceSync  PresenceKind = "sync"
)

// PresenceEvent reports a membership change on the channel. Sync events
// carry the full roster instead of a single record.
type PresenceEvent struct {
	Kind   PresenceKind     `json:"kind"`
	Record PresenceRecord   `json:"record,omitempty"`
	Roster []PresenceRecord `json:"roster,omitempty"`
}
