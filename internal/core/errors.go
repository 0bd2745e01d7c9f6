package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable means the camera/microphone is missing or access
	// was denied. Fatal to a call join, never retried silently.
	ErrDeviceUnavailable = errors.New("media device unavailable")

	// ErrSubscribe means the signaling channel failed to subscribe. The join
	// is aborted but can be retried by calling Join again.
	ErrSubscribe = errors.New("signaling subscription failed")
)

// NegotiationError wraps a rejected offer/answer/description step. The
// affected link is closed and handled by the reconnection policy; it is
// never surfaced as a fatal call error.
type NegotiationError struct {
	Step string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s: %v", e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
