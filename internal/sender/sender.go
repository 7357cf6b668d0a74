package sender

import (
	"context"
	"errors"

	"github.com/taskboard/notify-engine/internal/domain"
)

// Sender attempts delivery of one consolidated queue entry via the external
// mail transport. It is stateless: all status bookkeeping is applied by the
// dispatcher based on the returned error, which keeps the sender
// independently testable.
type Sender interface {
	Send(ctx context.Context, e *domain.QueueEntry) error
}

// PermanentError wraps a delivery failure that retrying cannot fix
// (invalid recipient, hard bounce). The dispatcher moves such entries
// straight to failed instead of burning the retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError anywhere in its chain.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
