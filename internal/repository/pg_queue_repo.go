package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskboard/notify-engine/internal/domain"
)

const entryColumns = `id, recipient_id, task_id, notification_type, action, details,
	       old_value, new_value, task_data, participants_data, actor_data,
	       merge_key, status, scheduled_send_time, first_change_time,
	       last_change_time, change_count, retry_count, error_message,
	       sent_at, created_at, updated_at`

type pgQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{pool: pool}
}

// Upsert relies on the partial unique index on (merge_key) WHERE
// status = 'pending': the insert and the does-a-pending-entry-exist check
// execute as one statement, so two concurrent producers for the same tuple
// serialize inside PostgreSQL and the loser lands on the merge branch.
// (xmax = 0) distinguishes a freshly inserted row from an updated one.
func (r *pgQueueRepository) Upsert(ctx context.Context, e *domain.QueueEntry) (bool, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO notification_queue
			(id, recipient_id, task_id, notification_type, action, details, old_value, new_value,
			 task_data, participants_data, actor_data, merge_key, status,
			 scheduled_send_time, first_change_time, last_change_time, change_count,
			 retry_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (merge_key) WHERE status = 'pending' DO UPDATE SET
			action              = EXCLUDED.action,
			details             = EXCLUDED.details,
			old_value           = EXCLUDED.old_value,
			new_value           = EXCLUDED.new_value,
			task_data           = EXCLUDED.task_data,
			participants_data   = EXCLUDED.participants_data,
			actor_data          = EXCLUDED.actor_data,
			last_change_time    = EXCLUDED.last_change_time,
			scheduled_send_time = EXCLUDED.scheduled_send_time,
			change_count        = notification_queue.change_count + 1,
			updated_at          = EXCLUDED.updated_at
		RETURNING id, change_count, first_change_time, created_at, (xmax = 0)`,
		e.ID, e.RecipientID, e.TaskID, e.Kind, e.Action, e.Details, e.OldValue, e.NewValue,
		e.Task, e.Participants, e.Actor, e.MergeKey, e.Status,
		e.ScheduledSendTime, e.FirstChangeTime, e.LastChangeTime, e.ChangeCount,
		e.RetryCount, e.CreatedAt, e.UpdatedAt,
	)

	var inserted bool
	if err := row.Scan(&e.ID, &e.ChangeCount, &e.FirstChangeTime, &e.CreatedAt, &inserted); err != nil {
		return false, fmt.Errorf("upsert queue entry: %w", err)
	}
	return !inserted, nil
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM notification_queue WHERE id = $1`, id)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

func (r *pgQueueRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.QueueEntry, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	// Count total matching rows for pagination metadata.
	var total int
	countQuery := "SELECT COUNT(*) FROM notification_queue" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue entries: %w", err)
	}

	// Append pagination args after the WHERE args.
	args = append(args, f.Limit, offset)
	limitPlaceholder := fmt.Sprintf("$%d", len(args)-1)
	offsetPlaceholder := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(`
		SELECT `+entryColumns+`
		FROM notification_queue%s
		ORDER BY scheduled_send_time DESC
		LIMIT %s OFFSET %s`, where, limitPlaceholder, offsetPlaceholder)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *pgQueueRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM notification_queue
		WHERE status = 'pending'
		  AND scheduled_send_time <= $1
		ORDER BY scheduled_send_time ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find due entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *pgQueueRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'sent', sent_at = $2, error_message = NULL, updated_at = $2
		WHERE id = $1 AND status <> 'sent'`, id, sentAt)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgQueueRepository) ScheduleRetry(ctx context.Context, id string, retryCount int, nextAttempt time.Time, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET retry_count = $2, scheduled_send_time = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, retryCount, nextAttempt, errMsg)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

func (r *pgQueueRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *pgQueueRepository) Delete(ctx context.Context, ids []string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notification_queue WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete queue entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgQueueRepository) DeleteSent(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notification_queue WHERE status = 'sent'`)
	if err != nil {
		return 0, fmt.Errorf("delete sent entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgQueueRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM notification_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var s domain.Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

// ---- helpers ----

// scanEntry reads a single queue entry row from any pgx row type.
// The snapshot columns are JSONB; pgx decodes them straight into the
// snapshot value types.
func scanEntry(row pgx.Row) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := row.Scan(
		&e.ID, &e.RecipientID, &e.TaskID, &e.Kind, &e.Action, &e.Details,
		&e.OldValue, &e.NewValue, &e.Task, &e.Participants, &e.Actor,
		&e.MergeKey, &e.Status, &e.ScheduledSendTime, &e.FirstChangeTime,
		&e.LastChangeTime, &e.ChangeCount, &e.RetryCount, &e.ErrorMessage,
		&e.SentAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]*domain.QueueEntry, error) {
	var result []*domain.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.RecipientID != nil {
		add("recipient_id = $%d", *f.RecipientID)
	}
	if f.TaskID != nil {
		add("task_id = $%d", *f.TaskID)
	}
	if f.From != nil {
		add("last_change_time >= $%d", *f.From)
	}
	if f.To != nil {
		add("last_change_time <= $%d", *f.To)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(details ILIKE $%d OR recipient_id ILIKE $%d OR task_data->>'title' ILIKE $%d OR actor_data->>'name' ILIKE $%d)",
			n, n, n, n))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
