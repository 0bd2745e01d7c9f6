// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

// ParticipantID is an opaque identity supplied by the identity provider.
// Stable per session, unique within a room; the call core never mints one.
type ParticipantID string

// Participant is one remote (or the local) member of a study room call.
// The presence registry is the sole owner of these records.
type Participant struct {
	ID           ParticipantID `json:"id"`
	DisplayName  string        `json:"display_name"`
	Stream       *RemoteStream `json:"-"`
	AudioEnabled bool          `json:"audio_enabled"`
	VideoEnabled bool          `json:"video_enabled"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, displayName string) (*Participant, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{ID: id, DisplayName: displayName}, nil
}

// ParticipantPatch is a partial update applied by the presence registry.
// Nil fields are left untouched, so a metadata-only patch never clears a
// previously set stream.
type ParticipantPatch struct {
	DisplayName  *string
	Stream       *RemoteStream
	AudioEnabled *bool
	VideoEnabled *bool
}
