package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskboard/notify-engine/internal/domain"
	"github.com/taskboard/notify-engine/internal/repository"
	"github.com/taskboard/notify-engine/internal/sender"
)

// IntakeHooks carries the metric callbacks for the intake path.
// Using a struct keeps the constructor signature clean; nil funcs are no-ops.
type IntakeHooks struct {
	OnCreated func()
	OnMerged  func()
}

// QueueService is the engine's single entry point for producers (Notify)
// and operators (List, SendNow, DeleteEntries, DeleteAllSent, Stats).
// All accumulation rules live in the repository's atomic upsert; the service
// decides the merge identity and builds the candidate entry.
type QueueService struct {
	repo   repository.QueueRepository
	snd    sender.Sender
	logger *zap.Logger
	hooks  IntakeHooks

	// now is swapped out in tests to make the sliding window deterministic.
	now func() time.Time
}

func NewQueueService(
	repo repository.QueueRepository,
	snd sender.Sender,
	logger *zap.Logger,
	hooks IntakeHooks,
) *QueueService {
	if hooks.OnCreated == nil {
		hooks.OnCreated = func() {}
	}
	if hooks.OnMerged == nil {
		hooks.OnMerged = func() {}
	}
	return &QueueService{
		repo:   repo,
		snd:    snd,
		logger: logger,
		hooks:  hooks,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service's time source. Test helper.
func (s *QueueService) WithClock(now func() time.Time) *QueueService {
	s.now = now
	return s
}

// Notify accepts one domain event and either creates a new pending entry or
// folds the event into the existing pending entry for the same
// (recipient, task, kind) tuple.
//
// Every event — first or merged — slides the send window to now + delay, so
// a recipient editing a task continuously hears nothing until the edits stop
// for delay minutes. A zero delay skips accumulation: the event gets a
// unique merge key and becomes an independently dispatchable entry.
//
// Store failures propagate to the caller; the originating domain action
// decides whether to fail loudly or log and continue.
func (s *QueueService) Notify(ctx context.Context, ev domain.Event) (*domain.QueueEntry, bool, error) {
	if err := ev.Validate(); err != nil {
		return nil, false, err
	}

	now := s.now()
	delay := time.Duration(ev.DelayMinutes) * time.Minute

	e := &domain.QueueEntry{
		ID:                uuid.New().String(),
		RecipientID:       ev.RecipientID,
		TaskID:            ev.TaskID,
		Kind:              ev.Kind,
		Action:            ev.Action,
		Details:           ev.Details,
		OldValue:          ev.OldValue,
		NewValue:          ev.NewValue,
		Task:              ev.Task,
		Participants:      ev.Participants,
		Actor:             ev.Actor,
		Status:            domain.StatusPending,
		ScheduledSendTime: now.Add(delay),
		FirstChangeTime:   now,
		LastChangeTime:    now,
		ChangeCount:       1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if ev.DelayMinutes > 0 {
		e.MergeKey = domain.AccumulationKey(ev.RecipientID, ev.TaskID, ev.Kind)
	} else {
		e.MergeKey = e.ID
	}

	merged, err := s.repo.Upsert(ctx, e)
	if err != nil {
		return nil, false, fmt.Errorf("persist queue entry: %w", err)
	}

	if merged {
		s.hooks.OnMerged()
		s.logger.Debug("event merged into pending entry",
			zap.String("id", e.ID),
			zap.Int("change_count", e.ChangeCount),
		)
	} else {
		s.hooks.OnCreated()
	}
	return e, merged, nil
}

func (s *QueueService) GetByID(ctx context.Context, id string) (*domain.QueueEntry, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *QueueService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.QueueEntry, int, error) {
	return s.repo.List(ctx, filter)
}

// SendNow force-delivers the given entries immediately, bypassing their
// scheduled send time. Already-sent entries are reported as skipped, not as
// errors, since operators routinely select mixed batches. Failed entries may
// be force-sent; a failed attempt here leaves the entry untouched (the
// dispatcher owns retry bookkeeping) and is reported in Errors.
func (s *QueueService) SendNow(ctx context.Context, ids []string) (*domain.SendNowResult, error) {
	if len(ids) == 0 {
		return nil, domain.ErrEmptyIDSet
	}

	result := &domain.SendNowResult{}
	for _, id := range ids {
		e, err := s.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: not found", id))
				continue
			}
			return nil, fmt.Errorf("load entry %s: %w", id, err)
		}

		if e.Status == domain.StatusSent {
			result.SkippedAlreadySent++
			continue
		}

		if err := s.snd.Send(ctx, e); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}

		claimed, err := s.repo.MarkSent(ctx, id, s.now())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		if !claimed {
			// The dispatcher won the race between our load and the send.
			result.SkippedAlreadySent++
			continue
		}
		result.Sent++
	}
	return result, nil
}

// DeleteEntries physically removes the selected entries. Deletion is an
// operator action only; intake and the dispatcher never remove rows.
func (s *QueueService) DeleteEntries(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, domain.ErrEmptyIDSet
	}
	return s.repo.Delete(ctx, ids)
}

// DeleteAllSent clears every sent entry from the queue.
func (s *QueueService) DeleteAllSent(ctx context.Context) (int64, error) {
	return s.repo.DeleteSent(ctx)
}

// Stats returns the queue entry counts grouped by status.
func (s *QueueService) Stats(ctx context.Context) (map[domain.Status]int, error) {
	return s.repo.CountByStatus(ctx)
}
