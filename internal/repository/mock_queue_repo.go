package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskboard/notify-engine/internal/domain"
)

// MockQueueRepository is a hand-written, in-memory implementation of
// QueueRepository used in unit tests. No mock-generation library needed.
// The mutex gives it the same serialization the partial unique index gives
// the PostgreSQL implementation, so merge-race tests are meaningful.
type MockQueueRepository struct {
	mu      sync.Mutex
	entries map[string]*domain.QueueEntry

	// Optional error overrides — set in tests to simulate failure paths.
	UpsertErr  error
	GetByIDErr error
	FindDueErr error
}

func NewMockQueueRepository() *MockQueueRepository {
	return &MockQueueRepository{entries: make(map[string]*domain.QueueEntry)}
}

func (m *MockQueueRepository) Upsert(_ context.Context, e *domain.QueueEntry) (bool, error) {
	if m.UpsertErr != nil {
		return false, m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entries {
		if existing.Status == domain.StatusPending && existing.MergeKey == e.MergeKey {
			existing.Action = e.Action
			existing.Details = e.Details
			existing.OldValue = e.OldValue
			existing.NewValue = e.NewValue
			existing.Task = e.Task
			existing.Participants = e.Participants
			existing.Actor = e.Actor
			existing.LastChangeTime = e.LastChangeTime
			existing.ScheduledSendTime = e.ScheduledSendTime
			existing.ChangeCount++
			existing.UpdatedAt = e.UpdatedAt

			e.ID = existing.ID
			e.ChangeCount = existing.ChangeCount
			e.FirstChangeTime = existing.FirstChangeTime
			e.CreatedAt = existing.CreatedAt
			return true, nil
		}
	}

	clone := *e
	m.entries[e.ID] = &clone
	return false, nil
}

func (m *MockQueueRepository) GetByID(_ context.Context, id string) (*domain.QueueEntry, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (m *MockQueueRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.QueueEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.QueueEntry
	for _, e := range m.entries {
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.RecipientID != nil && e.RecipientID != *f.RecipientID {
			continue
		}
		if f.TaskID != nil && e.TaskID != *f.TaskID {
			continue
		}
		if f.From != nil && e.LastChangeTime.Before(*f.From) {
			continue
		}
		if f.To != nil && e.LastChangeTime.After(*f.To) {
			continue
		}
		if f.Search != "" && !mockSearchMatch(e, f.Search) {
			continue
		}
		clone := *e
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledSendTime.After(result[j].ScheduledSendTime)
	})
	return result, len(result), nil
}

func mockSearchMatch(e *domain.QueueEntry, q string) bool {
	q = strings.ToLower(q)
	for _, s := range []string{e.Details, e.RecipientID, e.Task.Title, e.Actor.Name} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

func (m *MockQueueRepository) FindDue(_ context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	if m.FindDueErr != nil {
		return nil, m.FindDueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.QueueEntry
	for _, e := range m.entries {
		if e.Status == domain.StatusPending && !e.ScheduledSendTime.After(now) {
			clone := *e
			due = append(due, &clone)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledSendTime.Before(due[j].ScheduledSendTime)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MockQueueRepository) MarkSent(_ context.Context, id string, sentAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status == domain.StatusSent {
		return false, nil
	}
	e.Status = domain.StatusSent
	e.SentAt = &sentAt
	e.ErrorMessage = nil
	e.UpdatedAt = sentAt
	return true, nil
}

func (m *MockQueueRepository) ScheduleRetry(_ context.Context, id string, retryCount int, nextAttempt time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok && e.Status == domain.StatusPending {
		e.RetryCount = retryCount
		e.ScheduledSendTime = nextAttempt
		e.ErrorMessage = &errMsg
	}
	return nil
}

func (m *MockQueueRepository) MarkFailed(_ context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok && e.Status == domain.StatusPending {
		e.Status = domain.StatusFailed
		e.ErrorMessage = &errMsg
	}
	return nil
}

func (m *MockQueueRepository) Delete(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, ok := m.entries[id]; ok {
			delete(m.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MockQueueRepository) DeleteSent(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, e := range m.entries {
		if e.Status == domain.StatusSent {
			delete(m.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MockQueueRepository) CountByStatus(_ context.Context) (map[domain.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.Status]int)
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts, nil
}
