package model

import "errors"

// Shared error taxonomy. Every layer returns (or wraps) one of these; the
// HTTP layer maps them to statuses and the socket layer to error payloads.
var (
	// ErrForbidden: the caller is not allowed to act on the entity (wrong
	// participant or wrong role for the transition).
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState: the requested transition is not legal from the
	// entity's current state, including a state that went stale under the
	// caller's feet.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound: the referenced conversation, offer or deal does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict: a concurrent write took the sequence slot first.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable: the store could not complete the operation after
	// retries.
	ErrUnavailable = errors.New("unavailable")

	// ErrInvalidArgument: the request itself is malformed.
	ErrInvalidArgument = errors.New("invalid argument")
)
