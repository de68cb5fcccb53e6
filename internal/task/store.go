package task

import "context"

// Store describes the persistence operations the orchestrator needs. A
// store must return ErrNotFound distinctly from other failures; every other
// error is treated uniformly as a store error.
type Store interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	DeleteTask(ctx context.Context, id string) error
	// ListTasksByOrgs returns tasks owned by any of the given organizations,
	// sorted by order index ascending, then creation time descending.
	ListTasksByOrgs(ctx context.Context, orgIDs []string) ([]Task, error)

	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (Organization, error)
	// ListChildOrganizations returns the direct children only; reach never
	// extends to grandchildren.
	ListChildOrganizations(ctx context.Context, parentID string) ([]Organization, error)
}
