package repository

import (
	"context"
	"time"

	"github.com/taskboard/notify-engine/internal/domain"
)

// QueueRepository defines all persistence operations for the notification queue.
// The pgx implementation is in pg_queue_repo.go.
// Tests use a hand-written mock (mock_queue_repo.go).
//
// The store is the only place where the at-most-one-pending invariant is
// enforced: Upsert is a single atomic create-or-merge, and the terminal
// status transitions are compare-and-set on the current status.
type QueueRepository interface {
	// Upsert inserts the entry, or — when a pending entry with the same
	// merge key already exists — folds the entry into it: change_count is
	// incremented, payload and snapshots are overwritten last-write-wins,
	// and the send window slides to the entry's scheduled_send_time.
	// On return the entry reflects the stored row (id, change_count,
	// first_change_time, created_at). The bool reports whether a merge
	// happened instead of an insert.
	Upsert(ctx context.Context, e *domain.QueueEntry) (bool, error)

	GetByID(ctx context.Context, id string) (*domain.QueueEntry, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.QueueEntry, int, error)

	// FindDue returns pending entries whose scheduled_send_time has passed,
	// oldest first, capped at limit.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error)

	// MarkSent transitions a non-sent entry to sent. Returns false when the
	// entry was already sent (or does not exist), so force-send batches can
	// report skips instead of errors.
	MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error)

	// ScheduleRetry bumps the retry bookkeeping on a still-pending entry and
	// pushes its scheduled_send_time out so a later sweep picks it up.
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextAttempt time.Time, errMsg string) error

	MarkFailed(ctx context.Context, id string, errMsg string) error

	Delete(ctx context.Context, ids []string) (int64, error)
	DeleteSent(ctx context.Context) (int64, error)

	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}
