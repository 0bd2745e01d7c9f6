package domain

type RoomID string

// ChannelName is the signaling channel naming convention for a room.
func (r RoomID) ChannelName() string { return "room:" + string(r) }
