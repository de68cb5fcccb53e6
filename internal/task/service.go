package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"taskdeck.org/internal/audit"
	"taskdeck.org/internal/ids"
	"taskdeck.org/internal/rbac"
)

// Service orchestrates task operations: every call decides via the rbac
// engine, acts on the store, and records the outcome before returning.
// A NotFound on the target is the one case that produces no record, since
// no decision was reached.
type Service struct {
	store Store
	audit *audit.Recorder
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service over the given store and recorder.
func NewService(store Store, rec *audit.Recorder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("task: store is required")
	}
	if rec == nil {
		return nil, errors.New("task: audit recorder is required")
	}
	s := &Service{store: store, audit: rec, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create makes a new task in the actor's own organization. Creation never
// targets another organization, so only the permission half of the decision
// applies.
func (s *Service) Create(ctx context.Context, actor rbac.Actor, in CreateInput) (Task, error) {
	if err := in.Validate(); err != nil {
		return Task{}, err
	}

	if !rbac.HasPermission(actor.Role, rbac.PermTaskCreate) {
		if err := s.audit.Record(ctx, actor.UserID, audit.ActionTaskCreate, "task", audit.ResultDenied, map[string]string{
			"reason": "insufficient permissions",
		}); err != nil {
			return Task{}, err
		}
		return Task{}, rbac.ErrForbidden
	}

	now := s.now().UTC()
	t := Task{
		ID:             ids.New(),
		Title:          in.Title,
		Description:    in.Description,
		Category:       in.Category,
		Status:         in.Status,
		OrganizationID: actor.OrganizationID,
		CreatedBy:      actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.OrderIndex != nil {
		t.OrderIndex = *in.OrderIndex
	}

	if err := s.store.CreateTask(ctx, &t); err != nil {
		if rerr := s.audit.Record(ctx, actor.UserID, audit.ActionTaskCreate, "task", audit.ResultError, map[string]string{
			"error": err.Error(),
		}); rerr != nil {
			return Task{}, rerr
		}
		return Task{}, fmt.Errorf("create task: %w", err)
	}

	if err := s.audit.Record(ctx, actor.UserID, audit.ActionTaskCreate, "task:"+t.ID, audit.ResultSuccess, map[string]string{
		"title": t.Title,
	}); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Get fetches one task the actor can reach.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, id string) (Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Task{}, err
	}
	if err != nil {
		if rerr := s.audit.Record(ctx, actor.UserID, audit.ActionTaskRead, "task:"+id, audit.ResultError, map[string]string{
			"error": err.Error(),
		}); rerr != nil {
			return Task{}, rerr
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}

	allowed, err := s.decide(ctx, actor, rbac.PermTaskRead, t.OrganizationID, audit.ActionTaskRead, "task:"+id)
	if err != nil {
		return Task{}, err
	}
	if !allowed {
		return Task{}, rbac.ErrForbidden
	}

	if err := s.audit.Record(ctx, actor.UserID, audit.ActionTaskRead, "task:"+id, audit.ResultSuccess, nil); err != nil {
		return Task{}, err
	}
	return t, nil
}

// List returns every task in the actor's reachable organizations, sorted by
// order index ascending, then creation time descending.
func (s *Service) List(ctx context.Context, actor rbac.Actor) ([]Task, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermTaskRead) {
		if err := s.audit.Record(ctx, actor.UserID, audit.ActionTaskRead, "tasks", audit.ResultDenied, map[string]string{
			"reason": "insufficient permissions",
		}); err != nil {
			return nil, err
		}
		return nil, rbac.ErrForbidden
	}

	orgIDs, err := s.AccessibleOrgIDs(ctx, actor)
	if err != nil {
		if rerr := s.audit.Record(ctx, actor.UserID, audit.ActionTaskRead, "tasks", audit.ResultError, map[string]string{
			"error": err.Error(),
		}); rerr != nil {
			return nil, rerr
		}
		return nil, err
	}

	tasks, err := s.store.ListTasksByOrgs(ctx, orgIDs)
	if err != nil {
		if rerr := s.audit.Record(ctx, actor.UserID, audit.ActionTaskRead, "tasks", audit.ResultError, map[string]string{
			"error": err.Error(),
		}); rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	if err := s.audit.Record(ctx, actor.UserID, audit.ActionTaskRead, "tasks", audit.ResultSuccess, map[string]string{
		"count": strconv.Itoa(len(tasks)),
	}); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Update applies a partial patch to a task the actor can reach.
func (s *Service) Update(ctx context.Context, actor rbac.Actor, id string, patch Patch) (Task, error) {
	if err := patch.Validate(); err != nil {
		return Task{}, err
	}

	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Task{}, err
	}
	if err != nil {
		if rerr := s.audit.Record(ctx, actor.UserID, audit.ActionTaskUpdate, "task:"+id, audit.ResultError, map[string]string{
			"error": err.Error(),
		}); rerr != nil {
			return Task{}, rerr
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}

	allowed, err := s.decide(ctx, actor, rbac.PermTaskUpdate, t.OrganizationID, audit.ActionTaskUpdate, "task:"+id)
	if err != nil {
		return Task{}, err
	}
	if !allowed {
		return Task{}, rbac.ErrForbidden
	}

	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Category != nil {
		t.Category = *patch.Category
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.OrderIndex != nil {
		t.OrderIndex = *patch.OrderIndex
	}
	t.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateTask(ctx, &t); err != nil {
		if rerr := s.audit.Record(ctx, actor.UserID, audit.ActionTaskUpdate, "task:"+id, audit.ResultError, map[string]string{
			"error": err.Error(),
		}); rerr != nil {
			return Task{}, rerr
		}
		return Task{}, fmt.Errorf("update task: %w", err)
	}

	if err := s.audit.Record(ctx, actor.UserID, audit.ActionTaskUpdate, "task:"+id, audit.ResultSuccess, patch.changes()); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Delete removes a task the actor can reach.
func (s *Service) Delete(ctx context.Context, actor rbac.Actor, id string) error {
	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		if rerr := s.audit.Record(ctx, actor.UserID, audit.ActionTaskDelete, "task:"+id, audit.ResultError, map[string]string{
			"error": err.Error(),
		}); rerr != nil {
			return rerr
		}
		return fmt.Errorf("get task: %w", err)
	}

	allowed, err := s.decide(ctx, actor, rbac.PermTaskDelete, t.OrganizationID, audit.ActionTaskDelete, "task:"+id)
	if err != nil {
		return err
	}
	if !allowed {
		return rbac.ErrForbidden
	}

	if err := s.store.DeleteTask(ctx, id); err != nil {
		if rerr := s.audit.Record(ctx, actor.UserID, audit.ActionTaskDelete, "task:"+id, audit.ResultError, map[string]string{
			"error": err.Error(),
		}); rerr != nil {
			return rerr
		}
		return fmt.Errorf("delete task: %w", err)
	}

	return s.audit.Record(ctx, actor.UserID, audit.ActionTaskDelete, "task:"+id, audit.ResultSuccess, nil)
}

// AccessibleOrgIDs returns the organizations the actor's list operations
// scope to: always the actor's own, plus the direct children for roles with
// downward reach. A missing own organization degrades to the own id alone.
func (s *Service) AccessibleOrgIDs(ctx context.Context, actor rbac.Actor) ([]string, error) {
	orgIDs := []string{actor.OrganizationID}
	if actor.Role != rbac.RoleOwner && actor.Role != rbac.RoleAdmin {
		return orgIDs, nil
	}

	if _, err := s.store.GetOrganization(ctx, actor.OrganizationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return orgIDs, nil
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}

	children, err := s.store.ListChildOrganizations(ctx, actor.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("list child organizations: %w", err)
	}
	for _, child := range children {
		orgIDs = append(orgIDs, child.ID)
	}
	return orgIDs, nil
}

// decide runs the full permission-and-reach check against the target's
// organization and records the denial if the answer is no. An error here is
// always an audit failure or a store failure resolving the target scope.
func (s *Service) decide(ctx context.Context, actor rbac.Actor, perm rbac.Permission, targetOrgID string, action audit.Action, resource string) (bool, error) {
	targetParentID := ""
	org, err := s.store.GetOrganization(ctx, targetOrgID)
	switch {
	case err == nil:
		targetParentID = org.ParentID
	case errors.Is(err, ErrNotFound):
		// Dangling organization reference: decide on same-org alone.
	default:
		if rerr := s.audit.Record(ctx, actor.UserID, action, resource, audit.ResultError, map[string]string{
			"error": err.Error(),
		}); rerr != nil {
			return false, rerr
		}
		return false, fmt.Errorf("get organization: %w", err)
	}

	if rbac.CanPerformAction(actor.Role, perm, actor.OrganizationID, actor.OrganizationParentID, targetOrgID, targetParentID) {
		return true, nil
	}

	if err := s.audit.Record(ctx, actor.UserID, action, resource, audit.ResultDenied, map[string]string{
		"reason": "insufficient permissions or out of scope",
	}); err != nil {
		return false, err
	}
	return false, nil
}
