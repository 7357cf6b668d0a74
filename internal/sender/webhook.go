package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskboard/notify-engine/internal/domain"
)

// DeliveryRequest is the JSON body posted to the mail gateway. It carries
// the stored snapshots, never live task data, so delivery works even when
// the referenced task or user has since been deleted.
type DeliveryRequest struct {
	RecipientID  string                 `json:"recipient_id"`
	Kind         string                 `json:"kind"`
	Action       string                 `json:"action"`
	Details      string                 `json:"details"`
	OldValue     *string                `json:"old_value,omitempty"`
	NewValue     *string                `json:"new_value,omitempty"`
	ChangeCount  int                    `json:"change_count"`
	Task         domain.TaskSnapshot    `json:"task"`
	Participants []domain.ActorSnapshot `json:"participants"`
	Actor        domain.ActorSnapshot   `json:"actor"`
}

// WebhookSender delivers notifications by POSTing to the mail gateway.
// The base URL is injected from config so tests can point to a local mock.
type WebhookSender struct {
	baseURL    string
	httpClient *http.Client
}

func NewWebhookSender(baseURL string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts the consolidated entry to the gateway and classifies the
// response: 2xx is success, any other 4xx is a permanent rejection, and
// 429, 5xx, timeouts and transport errors are transient.
func (s *WebhookSender) Send(ctx context.Context, e *domain.QueueEntry) error {
	body, err := json.Marshal(DeliveryRequest{
		RecipientID:  e.RecipientID,
		Kind:         string(e.Kind),
		Action:       string(e.Action),
		Details:      e.Details,
		OldValue:     e.OldValue,
		NewValue:     e.NewValue,
		ChangeCount:  e.ChangeCount,
		Task:         e.Task,
		Participants: e.Participants,
		Actor:        e.Actor,
	})
	if err != nil {
		return Permanent(fmt.Errorf("marshal delivery request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection errors are worth retrying.
		return fmt.Errorf("deliver to gateway: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	default:
		return Permanent(fmt.Errorf("gateway rejected delivery: status %d", resp.StatusCode))
	}
}

// compile-time check that WebhookSender implements Sender
var _ Sender = (*WebhookSender)(nil)
