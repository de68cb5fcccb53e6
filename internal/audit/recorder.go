package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskdeck.org/internal/ids"
	"taskdeck.org/internal/obs"
	"taskdeck.org/internal/rbac"
)

// Recorder appends decision records to a sink and mirrors each record as a
// JSON console line for immediate visibility.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

// Option configures Recorder behavior.
type Option func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over the given sink.
func NewRecorder(sink Sink, opts ...Option) (*Recorder, error) {
	if sink == nil {
		return nil, errNoSink
	}
	r := &Recorder{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record appends exactly one entry for a decision outcome. It must succeed
// (or fail loudly) before the operation that produced the decision returns.
func (r *Recorder) Record(ctx context.Context, userID string, action Action, resource string, result Result, metadata map[string]string) error {
	entry := &Entry{
		ID:        ids.New(),
		Timestamp: r.now().UTC(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Result:    result,
	}
	if len(metadata) > 0 {
		entry.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			entry.Metadata[k] = v
		}
	}

	if err := r.sink.Append(ctx, entry); err != nil {
		return fmt.Errorf("audit append: %w", err)
	}

	obs.CountDecision(string(action), string(result))
	r.console(entry)
	return nil
}

// ReadRecent returns the latest entries in reverse-chronological order,
// gated by audit:read through the same engine the task operations use. The
// read itself is an auditable event.
func (r *Recorder) ReadRecent(ctx context.Context, actor rbac.Actor, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	allowed := rbac.CanPerformAction(
		actor.Role, rbac.PermAuditRead,
		actor.OrganizationID, actor.OrganizationParentID,
		actor.OrganizationID, actor.OrganizationParentID,
	)
	if !allowed {
		if err := r.Record(ctx, actor.UserID, ActionAuditRead, "audit-log", ResultDenied, map[string]string{
			"reason": "insufficient permissions",
		}); err != nil {
			return nil, err
		}
		return nil, rbac.ErrForbidden
	}

	entries, err := r.sink.Recent(ctx, limit)
	if err != nil {
		if rerr := r.Record(ctx, actor.UserID, ActionAuditRead, "audit-log", ResultError, map[string]string{
			"error": err.Error(),
		}); rerr != nil {
			return nil, rerr
		}
		return nil, err
	}

	if err := r.Record(ctx, actor.UserID, ActionAuditRead, "audit-log", ResultSuccess, nil); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Recorder) console(entry *Entry) {
	line := map[string]any{
		"ts":       entry.Timestamp.Format(time.RFC3339Nano),
		"type":     "audit",
		"user_id":  entry.UserID,
		"action":   entry.Action,
		"resource": entry.Resource,
		"result":   entry.Result,
	}
	if len(entry.Metadata) > 0 {
		line["metadata"] = entry.Metadata
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}
