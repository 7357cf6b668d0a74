package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound         = errors.New("queue entry not found")
	ErrInvalidRecipient = errors.New("recipient id must not be empty")
	ErrInvalidTask      = errors.New("task id must not be empty")
	ErrInvalidKind      = errors.New("invalid kind: must be assignee, watcher, collaborator, or requester")
	ErrInvalidAction    = errors.New("invalid action: must be created, updated, assigned, moved, commented, or closed")
	ErrInvalidDelay     = errors.New("delay must not be negative")
	ErrEmptyIDSet       = errors.New("at least one entry id is required")
)
