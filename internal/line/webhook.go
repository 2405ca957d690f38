package line

import (
	"encoding/json"
	"fmt"
	"strings"

	"line_otp_bot/internal/domain"
)

// webhookPayload is the wire shape of an inbound webhook batch.
type webhookPayload struct {
	Events []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type       string          `json:"type"`
	ReplyToken string          `json:"replyToken"`
	Source     webhookSource   `json:"source"`
	Message    *webhookMessage `json:"message"`
}

type webhookSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
}

type webhookMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// decodeWebhook parses a verified webhook body into domain events, preserving
// arrival order.
func decodeWebhook(body []byte) ([]domain.Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	events := make([]domain.Event, 0, len(payload.Events))
	for _, raw := range payload.Events {
		events = append(events, raw.toDomain())
	}

	return events, nil
}

func (e webhookEvent) toDomain() domain.Event {
	event := domain.Event{
		Kind: e.Type,
		Source: domain.Source{
			Type:    e.Source.Type,
			UserID:  e.Source.UserID,
			GroupID: e.Source.GroupID,
		},
		ReplyToken: e.ReplyToken,
	}

	if e.Message != nil && e.Message.Type == "text" {
		event.Text = strings.TrimSpace(e.Message.Text)
	}

	return event
}
