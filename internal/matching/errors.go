package matching

import "errors"

var (
	// ErrInvalidArgument covers bad input: empty text, topK out of range,
	// malformed page tokens. Nothing is persisted.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBusy means an ingestion or matching run for the same user is in
	// flight. Safe to retry later.
	ErrBusy = errors.New("operation already in progress for user")

	// ErrNotReady means the user has no current embedding yet.
	ErrNotReady = errors.New("no current embedding")

	// ErrUserNotFound means no user row exists for the id.
	ErrUserNotFound = errors.New("user not found")
)
