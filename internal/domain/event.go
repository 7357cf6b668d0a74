package domain

// Event is a notification-worthy domain change reported by a producer
// (task, board or comment management). It is the sole input to intake.
type Event struct {
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

	// DelayMinutes is the accumulation window. Zero means immediate:
	// the event bypasses merging and becomes its own entry.
	DelayMinutes int `json:"delay_minutes"`
}

func (e *Event) Validate() error {
	if e.RecipientID == "" {
		return ErrInvalidRecipient
	}
	if e.TaskID == "" {
		return ErrInvalidTask
	}
	if !e.Kind.IsValid() {
		return ErrInvalidKind
	}
	if !e.Action.IsValid() {
		return ErrInvalidAction
	}
	if e.DelayMinutes < 0 {
		return ErrInvalidDelay
	}
	return nil
}
