package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParticipant(t *testing.T) {
	p, err := NewParticipant("peer-a", "Ada")
	require.NoError(t, err)
	assert.Equal(t, ParticipantID("peer-a"), p.ID)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Nil(t, p.Stream)
}

func TestNewParticipantRejectsEmptyName(t *testing.T) {
	_, err := NewParticipant("peer-a", "")
	assert.ErrorIs(t, err, ErrDisplayNameEmpty)
}

func TestNewParticipantRejectsLongName(t *testing.T) {
	_, err := NewParticipant("peer-a", strings.Repeat("x", MaxDisplayNameLen+1))
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)

	_, err = NewParticipant("peer-a", strings.Repeat("x", MaxDisplayNameLen))
	assert.NoError(t, err)
}

func TestRoomChannelName(t *testing.T) {
	assert.Equal(t, "room:algebra-2", RoomID("algebra-2").ChannelName())
}

func TestRemoteStreamTracksAreACopy(t *testing.T) {
	s := NewRemoteStream()
	assert.Empty(t, s.Tracks())
	assert.False(t, s.HasAudio())
	assert.False(t, s.HasVideo())
}
