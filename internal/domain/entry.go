package domain

import "time"

// Kind says in what role the recipient relates to the task.
type Kind string

const (
	KindAssignee     Kind = "assignee"
	KindWatcher      Kind = "watcher"
	KindCollaborator Kind = "collaborator"
	KindRequester    Kind = "requester"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindAssignee, KindWatcher, KindCollaborator, KindRequester:
		return true
	}
	return false
}

// Action is the change that triggered the notification.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionAssigned  Action = "assigned"
	ActionMoved     Action = "moved"
	ActionCommented Action = "commented"
	ActionClosed    Action = "closed"
)

func (a Action) IsValid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionAssigned, ActionMoved, ActionCommented, ActionClosed:
		return true
	}
	return false
}

// Status tracks the lifecycle of a queue entry.
// Sent and failed are terminal for the dispatcher; only an
// administrative delete removes such entries.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// TaskSnapshot is the point-in-time copy of the task's displayable fields,
// captured at merge time. The entry stays deliverable even if the task is
// later changed or deleted.
type TaskSnapshot struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Board    string     `json:"board"`
	Column   string     `json:"column"`
	Priority string     `json:"priority,omitempty"`
	DueDate  *time.Time `json:"due_date,omitempty"`
}

// ActorSnapshot is the point-in-time copy of a user involved in the change.
type ActorSnapshot struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// QueueEntry is one durable unit of notification work. Consecutive events
// for the same (recipient, task, kind) merge into a single pending entry;
// ChangeCount records how many events were consolidated.
type QueueEntry struct {
	ID           string          `json:"id"`
	RecipientID  string          `json:"recipient_id"`
	TaskID       string          `json:"task_id"`
	Kind         Kind            `json:"kind"`
	Action       Action          `json:"action"`
	Details      string          `json:"details"`
	OldValue     *string         `json:"old_value,omitempty"`
	NewValue     *string         `json:"new_value,omitempty"`
	Task         TaskSnapshot    `json:"task"`
	Participants []ActorSnapshot `json:"participants"`
	Actor        ActorSnapshot   `json:"actor"`

	// MergeKey is the accumulation identity. Entries created with a
	// non-zero delay share AccumulationKey(recipient, task, kind) so
	// concurrent inserts collide and merge; immediate entries use their
	// own ID so they never merge.
	MergeKey string `json:"-"`

	Status            Status     `json:"status"`
	ScheduledSendTime time.Time  `json:"scheduled_send_time"`
	FirstChangeTime   time.Time  `json:"first_change_time"`
	LastChangeTime    time.Time  `json:"last_change_time"`
	ChangeCount       int        `json:"change_count"`
	RetryCount        int        `json:"retry_count"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AccumulationKey is the merge identity shared by all throttled events for
// one recipient/task/kind tuple.
func AccumulationKey(recipientID, taskID string, kind Kind) string {
	return recipientID + ":" + taskID + ":" + string(kind)
}

// ListFilter holds query parameters for paginated queue listing.
// Search matches free text over details, recipient, task title and actor name.
type ListFilter struct {
	Status      *Status
	RecipientID *string
	TaskID      *string
	From        *time.Time
	To          *time.Time
	Search      string
	Page        int
	Limit       int
}

// SendNowResult reports the outcome of a force-send batch. Entries that were
// already sent are counted as skipped, not as errors, because operators
// routinely select mixed batches.
type SendNowResult struct {
	Sent               int      `json:"sent"`
	SkippedAlreadySent int      `json:"skipped_already_sent"`
	Errors             []string `json:"errors,omitempty"`
}
