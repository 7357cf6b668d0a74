package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/taskboard/notify-engine/internal/domain"
	"github.com/taskboard/notify-engine/internal/repository"
	"github.com/taskboard/notify-engine/internal/service"
)

// fakeSender records delivery attempts and fails on demand.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, e *domain.QueueEntry) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, e.ID)
	return nil
}

func newService() (*service.QueueService, *repository.MockQueueRepository, *fakeSender) {
	repo := repository.NewMockQueueRepository()
	fs := &fakeSender{}
	svc := service.NewQueueService(repo, fs, zap.NewNop(), service.IntakeHooks{})
	return svc, repo, fs
}

func makeEvent(recipient, task string, kind domain.Kind, delayMinutes int) domain.Event {
	return domain.Event{
		RecipientID:  recipient,
		TaskID:       task,
		Kind:         kind,
		Action:       domain.ActionUpdated,
		Details:      "Column changed",
		Task:         domain.TaskSnapshot{ID: task, Title: "Ship release", Board: "Sprint 12", Column: "Doing"},
		Participants: []domain.ActorSnapshot{{ID: recipient, Name: "Riley"}},
		Actor:        domain.ActorSnapshot{ID: "actor-1", Name: "Sam"},
		DelayMinutes: delayMinutes,
	}
}

func TestNotify_CreatesPendingEntry(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return base })

	e, merged, err := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged {
		t.Fatal("expected merged=false for the first event")
	}

	stored, err := repo.GetByID(ctx, e.ID)
	if err != nil {
		t.Fatalf("entry not stored: %v", err)
	}
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected status=pending, got %s", stored.Status)
	}
	if stored.ChangeCount != 1 {
		t.Fatalf("expected change_count=1, got %d", stored.ChangeCount)
	}
	if !stored.FirstChangeTime.Equal(base) || !stored.LastChangeTime.Equal(base) {
		t.Fatalf("expected first=last=%v, got first=%v last=%v", base, stored.FirstChangeTime, stored.LastChangeTime)
	}
	if want := base.Add(30 * time.Minute); !stored.ScheduledSendTime.Equal(want) {
		t.Fatalf("expected scheduled=%v, got %v", want, stored.ScheduledSendTime)
	}
}

func TestNotify_AccumulatesWithSlidingWindow(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	current := base
	svc.WithClock(func() time.Time { return current })

	// Three edits at t=0, t=10, t=20 with a 30 minute window.
	var last *domain.QueueEntry
	for i, offset := range []time.Duration{0, 10 * time.Minute, 20 * time.Minute} {
		current = base.Add(offset)
		e, merged, err := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30))
		if err != nil {
			t.Fatalf("event %d: unexpected error: %v", i, err)
		}
		if i == 0 && merged {
			t.Fatal("first event must not merge")
		}
		if i > 0 && !merged {
			t.Fatalf("event %d: expected merge into existing entry", i)
		}
		last = e
	}

	stored, err := repo.GetByID(ctx, last.ID)
	if err != nil {
		t.Fatalf("entry not stored: %v", err)
	}
	if stored.ChangeCount != 3 {
		t.Fatalf("expected change_count=3, got %d", stored.ChangeCount)
	}
	if !stored.FirstChangeTime.Equal(base) {
		t.Fatalf("first_change_time must stay at creation: got %v", stored.FirstChangeTime)
	}
	if want := base.Add(20 * time.Minute); !stored.LastChangeTime.Equal(want) {
		t.Fatalf("expected last_change_time=%v, got %v", want, stored.LastChangeTime)
	}
	// Window slides: last event at t=20 pushes delivery to t=50.
	if want := base.Add(50 * time.Minute); !stored.ScheduledSendTime.Equal(want) {
		t.Fatalf("expected scheduled=%v, got %v", want, stored.ScheduledSendTime)
	}

	counts, _ := repo.CountByStatus(ctx)
	if counts[domain.StatusPending] != 1 {
		t.Fatalf("expected exactly one pending entry, got %d", counts[domain.StatusPending])
	}
}

func TestNotify_MergeOverwritesPayloadLastWriteWins(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	first := makeEvent("u1", "t1", domain.KindWatcher, 15)
	old1, new1 := "Backlog", "Doing"
	first.OldValue, first.NewValue = &old1, &new1
	e, _, err := svc.Notify(ctx, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := makeEvent("u1", "t1", domain.KindWatcher, 15)
	second.Details = "Moved to Done"
	old2, new2 := "Doing", "Done"
	second.OldValue, second.NewValue = &old2, &new2
	second.Task.Column = "Done"
	if _, merged, err := svc.Notify(ctx, second); err != nil || !merged {
		t.Fatalf("expected merge, got merged=%v err=%v", merged, err)
	}

	stored, _ := repo.GetByID(ctx, e.ID)
	if stored.Details != "Moved to Done" {
		t.Fatalf("expected latest details, got %q", stored.Details)
	}
	if stored.NewValue == nil || *stored.NewValue != "Done" {
		t.Fatalf("expected new_value=Done, got %v", stored.NewValue)
	}
	if stored.Task.Column != "Done" {
		t.Fatalf("expected refreshed task snapshot, got column %q", stored.Task.Column)
	}
}

func TestNotify_DistinctTuplesNeverMerge(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	events := []domain.Event{
		makeEvent("u1", "t1", domain.KindAssignee, 30),
		makeEvent("u2", "t1", domain.KindAssignee, 30), // different recipient
		makeEvent("u1", "t2", domain.KindAssignee, 30), // different task
		makeEvent("u1", "t1", domain.KindWatcher, 30),  // different kind
	}
	for i, ev := range events {
		if _, merged, err := svc.Notify(ctx, ev); err != nil || merged {
			t.Fatalf("event %d: expected independent entry, merged=%v err=%v", i, merged, err)
		}
	}

	counts, _ := repo.CountByStatus(ctx)
	if counts[domain.StatusPending] != 4 {
		t.Fatalf("expected 4 pending entries, got %d", counts[domain.StatusPending])
	}
}

func TestNotify_ZeroDelayCreatesIndependentEntries(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	current := base
	svc.WithClock(func() time.Time { return current })

	a, _, err := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	current = base.Add(time.Minute)
	b, merged, err := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged {
		t.Fatal("zero-delay events must never merge")
	}
	if a.ID == b.ID {
		t.Fatal("expected two independent entries")
	}

	// Both are immediately eligible.
	for _, e := range []*domain.QueueEntry{a, b} {
		stored, _ := repo.GetByID(ctx, e.ID)
		if stored.ScheduledSendTime.After(current) {
			t.Fatalf("entry %s: expected immediate eligibility, scheduled %v", e.ID, stored.ScheduledSendTime)
		}
	}
}

func TestNotify_NeverResurrectsSentEntry(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	first, _, err := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.MarkSent(ctx, first.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	second, merged, err := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged {
		t.Fatal("event must not merge into a sent entry")
	}
	if second.ID == first.ID {
		t.Fatal("expected a fresh entry after the original was sent")
	}

	sent, _ := repo.GetByID(ctx, first.ID)
	if sent.ChangeCount != 1 || sent.Status != domain.StatusSent {
		t.Fatalf("sent entry mutated: status=%s change_count=%d", sent.Status, sent.ChangeCount)
	}
}

func TestNotify_ConcurrentSameTupleProducesOnePendingEntry(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			if _, _, err := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30)); err != nil {
				t.Errorf("concurrent notify: %v", err)
			}
		}()
	}
	wg.Wait()

	pending := domain.StatusPending
	entries, total, err := svc.List(ctx, domain.ListFilter{Status: &pending, Page: 1, Limit: 100})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected exactly one pending entry, got %d", total)
	}
	if entries[0].ChangeCount != writers {
		t.Fatalf("expected change_count=%d, got %d", writers, entries[0].ChangeCount)
	}

	counts, _ := repo.CountByStatus(ctx)
	if counts[domain.StatusPending] != 1 {
		t.Fatalf("store contains %d pending entries for one tuple", counts[domain.StatusPending])
	}
}

func TestNotify_ValidationAndStoreErrors(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	bad := makeEvent("", "t1", domain.KindAssignee, 30)
	if _, _, err := svc.Notify(ctx, bad); err != domain.ErrInvalidRecipient {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}

	storeErr := errors.New("connection refused")
	repo.UpsertErr = storeErr
	_, _, err := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30))
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}

func TestSendNow_MixedBatch(t *testing.T) {
	svc, repo, fs := newService()
	ctx := context.Background()

	pending, _, _ := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30))
	sent, _, _ := svc.Notify(ctx, makeEvent("u2", "t2", domain.KindWatcher, 30))
	_, _ = repo.MarkSent(ctx, sent.ID, time.Now().UTC())

	result, err := svc.SendNow(ctx, []string{pending.ID, sent.ID, "missing-id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Sent != 1 {
		t.Fatalf("expected sent=1, got %d", result.Sent)
	}
	if result.SkippedAlreadySent != 1 {
		t.Fatalf("expected skipped=1, got %d", result.SkippedAlreadySent)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error for the missing id, got %v", result.Errors)
	}
	if len(fs.sent) != 1 || fs.sent[0] != pending.ID {
		t.Fatalf("expected a single delivery for %s, got %v", pending.ID, fs.sent)
	}

	stored, _ := repo.GetByID(ctx, pending.ID)
	if stored.Status != domain.StatusSent || stored.SentAt == nil {
		t.Fatalf("expected entry sent with sent_at, got status=%s", stored.Status)
	}
}

func TestSendNow_IdempotentOnSentEntry(t *testing.T) {
	svc, _, fs := newService()
	ctx := context.Background()

	e, _, _ := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30))

	first, err := svc.SendNow(ctx, []string{e.ID})
	if err != nil || first.Sent != 1 {
		t.Fatalf("first force-send: err=%v result=%+v", err, first)
	}

	second, err := svc.SendNow(ctx, []string{e.ID})
	if err != nil {
		t.Fatalf("second force-send: %v", err)
	}
	if second.Sent != 0 || second.SkippedAlreadySent != 1 {
		t.Fatalf("expected skip on repeat, got %+v", second)
	}
	if len(fs.sent) != 1 {
		t.Fatalf("expected no second delivery, got %d attempts", len(fs.sent))
	}
}

func TestSendNow_DeliveryFailureLeavesEntryUntouched(t *testing.T) {
	svc, repo, fs := newService()
	ctx := context.Background()

	e, _, _ := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30))
	fs.err = errors.New("gateway status 503")

	result, err := svc.SendNow(ctx, []string{e.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Sent != 0 || len(result.Errors) != 1 {
		t.Fatalf("expected delivery error in result, got %+v", result)
	}

	stored, _ := repo.GetByID(ctx, e.ID)
	if stored.Status != domain.StatusPending || stored.RetryCount != 0 {
		t.Fatalf("entry must stay pending with retry_count=0, got status=%s retries=%d", stored.Status, stored.RetryCount)
	}
}

func TestSendNow_EmptyIDSet(t *testing.T) {
	svc, _, _ := newService()
	if _, err := svc.SendNow(context.Background(), nil); err != domain.ErrEmptyIDSet {
		t.Fatalf("expected ErrEmptyIDSet, got %v", err)
	}
}

func TestDeleteEntries(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	a, _, _ := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30))
	b, _, _ := svc.Notify(ctx, makeEvent("u2", "t2", domain.KindWatcher, 30))

	deleted, err := svc.DeleteEntries(ctx, []string{a.ID, b.ID, "missing-id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected deleted=2, got %d", deleted)
	}

	if _, err := svc.GetByID(ctx, a.ID); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	if _, err := svc.DeleteEntries(ctx, nil); err != domain.ErrEmptyIDSet {
		t.Fatalf("expected ErrEmptyIDSet, got %v", err)
	}
}

func TestDeleteAllSent(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	kept, _, _ := svc.Notify(ctx, makeEvent("u1", "t1", domain.KindAssignee, 30))
	gone, _, _ := svc.Notify(ctx, makeEvent("u2", "t2", domain.KindWatcher, 30))
	_, _ = repo.MarkSent(ctx, gone.ID, time.Now().UTC())

	deleted, err := svc.DeleteAllSent(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected deleted=1, got %d", deleted)
	}
	if _, err := svc.GetByID(ctx, kept.ID); err != nil {
		t.Fatalf("pending entry must survive: %v", err)
	}
}

func TestList_FreeTextSearch(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	ev := makeEvent("u1", "t1", domain.KindAssignee, 30)
	ev.Details = "Priority raised to urgent"
	_, _, _ = svc.Notify(ctx, ev)
	_, _, _ = svc.Notify(ctx, makeEvent("u2", "t2", domain.KindWatcher, 30))

	_, total, err := svc.List(ctx, domain.ListFilter{Search: "urgent", Page: 1, Limit: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one match for %q, got %d", "urgent", total)
	}
}
