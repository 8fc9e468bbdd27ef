package eventlog

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusEvent records that an order entered a status at a point in time.
// It is the primary unit of the append-only log.
type StatusEvent struct {
	// ProjectID is the CRM account the order belongs to.
	ProjectID int64 `json:"project_id"`
	// OrderID is the CRM order identifier.
	OrderID int64 `json:"order_id"`
	// StatusID is the status the order entered.
	StatusID int64 `json:"status_id"`
	// GroupID is the stage (status group) the status belongs to.
	GroupID int64 `json:"status_group_id"`
	// EnteredAt is when the status change happened in the CRM.
	EnteredAt time.Time `json:"status_changed_at"`
	// OrderCreatedAt is the order creation time as reported by the webhook, if any.
	OrderCreatedAt *time.Time `json:"order_created_at,omitempty"`

	// Payload is the raw webhook body the event was derived from.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DedupKey identifies a status change. Redelivered webhooks share the key.
func (e StatusEvent) DedupKey() string {
	return fmt.Sprintf("%d:%d:%d:%s",
		e.ProjectID,
		e.OrderID,
		e.StatusID,
		e.EnteredAt.UTC().Format(time.RFC3339Nano),
	)
}

// Interval is the residency of an order in one status.
// LeftAt of an open interval is the evaluation time.
type Interval struct {
	StatusID  int64     `json:"status_id"`
	GroupID   int64     `json:"status_group_id"`
	EnteredAt time.Time `json:"entered_at"`
	LeftAt    time.Time `json:"left_at"`
	Open      bool      `json:"open,omitempty"`
}
