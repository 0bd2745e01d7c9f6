package core

import "context"

// SignalChannel abstracts a named broadcast+presence channel scoped to one
// room. Owned by the adapter; the adapter must Unsubscribe() it.
//
// Delivery is at-most-once and unordered with respect to other events, so
// consumers must tolerate reordering (candidates before descriptions,
// presence before tracks).
type SignalChannel interface {
	// Subscribe opens the channel and returns once the server confirms the
	// subscription, or when ctx is done.
	Subscribe(ctx context.Context) error

	// Send publishes a broadcast message to all other subscribers.
	Send(msg Message) error

	// Track publishes the local participant's presence record.
	Track(rec PresenceRecord) error

	// Events delivers broadcast messages from other subscribers.
	// Closed on Unsubscribe.
	Events() <-chan Message

	// Presence delivers join/leave/sync membership events.
	// Closed on Unsubscribe.
	Presence() <-chan PresenceEvent

	// Unsubscribe tears the channel down. Idempotent.
	Unsubscribe()
}
