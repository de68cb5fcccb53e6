package audit

import (
	"context"
	"errors"
	"time"
)

// Result is the outcome of one authorization decision.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultDenied  Result = "DENIED"
	ResultError   Result = "ERROR"
)

// Action identifies the operation a decision was made for.
type Action string

const (
	ActionLogin      Action = "LOGIN"
	ActionTaskCreate Action = "TASK_CREATE"
	ActionTaskRead   Action = "TASK_READ"
	ActionTaskUpdate Action = "TASK_UPDATE"
	ActionTaskDelete Action = "TASK_DELETE"
	ActionAuditRead  Action = "AUDIT_READ"
)

// Entry is one immutable audit record. Entries are append-only: nothing in
// the service updates or deletes them.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"user_id"`
	Action    Action            `json:"action"`
	Resource  string            `json:"resource"`
	Result    Result            `json:"result"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink persists audit entries.
type Sink interface {
	Append(ctx context.Context, entry *Entry) error
	// Recent returns up to limit entries in reverse-chronological order.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

var errNoSink = errors.New("audit sink is required")
