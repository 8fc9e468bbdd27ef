package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPayload is returned for webhook bodies that cannot become a StatusEvent.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// FlexInt accepts both JSON numbers and numeric strings. The CRM is not consistent about it.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = strings.TrimSpace(unq)
		if s == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %s", s)
	}
	*f = FlexInt(n)
	return nil
}

// WebhookContext is the order section of a CRM status-change webhook.
type WebhookContext struct {
	ID              FlexInt `json:"id"`
	StatusID        FlexInt `json:"status_id"`
	StatusGroupID   FlexInt `json:"status_group_id"`
	StatusChangedAt string  `json:"status_changed_at"`
	CreatedAt       string  `json:"created_at"`
	OrderedAt       string  `json:"ordered_at"`
}

// Webhook is the body the CRM posts on every order status change.
type Webhook struct {
	Event   string          `json:"event"`
	Project FlexInt         `json:"project,omitempty"`
	Context *WebhookContext `json:"context"`
}

// Change is what a single webhook contributes: one log event plus the
// order start time candidate for the current-order snapshot.
type Change struct {
	Event     StatusEvent
	StartedAt time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp reads CRM timestamps. Values without an offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// DecodeWebhook parses a raw webhook body.
func DecodeWebhook(body []byte) (Webhook, error) {
	var w Webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return w, nil
}

// TransformWebhook converts a webhook body into a Change for the given project.
// When projectID is zero the body's own "project" field is used.
func TransformWebhook(projectID int64, body []byte) (Change, error) {
	w, err := DecodeWebhook(body)
	if err != nil {
		return Change{}, err
	}
	if projectID == 0 {
		projectID = int64(w.Project)
	}
	if projectID <= 0 {
		return Change{}, fmt.Errorf("%w: invalid project id %d", ErrInvalidPayload, projectID)
	}
	if w.Context == nil {
		return Change{}, fmt.Errorf("%w: no context", ErrInvalidPayload)
	}

	ctx := w.Context
	if ctx.ID <= 0 {
		return Change{}, fmt.Errorf("%w: missing order id", ErrInvalidPayload)
	}
	changedAt, err := ParseTimestamp(ctx.StatusChangedAt)
	if err != nil {
		return Change{}, fmt.Errorf("%w: status_changed_at: %v", ErrInvalidPayload, err)
	}

	event := StatusEvent{
		ProjectID: projectID,
		OrderID:   int64(ctx.ID),
		StatusID:  int64(ctx.StatusID),
		GroupID:   int64(ctx.StatusGroupID),
		EnteredAt: changedAt,
		Payload:   json.RawMessage(bytes.Clone(body)),
	}

	// Order start: first usable of created_at, ordered_at, status_changed_at.
	started := changedAt
	for _, candidate := range []string{ctx.CreatedAt, ctx.OrderedAt} {
		if candidate == "" {
			continue
		}
		if t, err := ParseTimestamp(candidate); err == nil {
			created := t
			event.OrderCreatedAt = &created
			started = t
			break
		}
	}

	return Change{Event: event, StartedAt: started}, nil
}
