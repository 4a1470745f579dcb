package session

import "errors"

var (
	// ErrNotFound indicates no session with the given id is registered.
	ErrNotFound = errors.New("session not found")

	// ErrBusy indicates the session already has an evaluation in flight.
	ErrBusy = errors.New("evaluation already in flight")

	// ErrDetached is returned by Submit when the evaluation was sent to
	// the background: the caller gets control back, and the detached
	// goroutine reports the result itself when it finishes.
	ErrDetached = errors.New("evaluation detached to background")

	// ErrClosed indicates the session reached its terminal state.
	ErrClosed = errors.New("session closed")
)
