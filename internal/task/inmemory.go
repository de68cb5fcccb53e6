package task

import (
	"context"
	"sort"
	"sync"
)

// InMemory is a Store backed by process memory. It backs tests and
// DSN-less development runs.
type InMemory struct {
	mu    sync.RWMutex
	tasks map[string]Task
	orgs  map[string]Organization
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		tasks: make(map[string]Task),
		orgs:  make(map[string]Organization),
	}
}

func (s *InMemory) CreateTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = *t
	return nil
}

func (s *InMemory) GetTask(ctx context.Context, id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (s *InMemory) UpdateTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	s.tasks[t.ID] = *t
	return nil
}

func (s *InMemory) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *InMemory) ListTasksByOrgs(ctx context.Context, orgIDs []string) ([]Task, error) {
	member := make(map[string]struct{}, len(orgIDs))
	for _, id := range orgIDs {
		member[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0)
	for _, t := range s.tasks {
		if _, ok := member[t.OrganizationID]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) CreateOrganization(ctx context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = *org
	return nil
}

func (s *InMemory) GetOrganization(ctx context.Context, id string) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

func (s *InMemory) ListChildOrganizations(ctx context.Context, parentID string) ([]Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Organization, 0)
	for _, org := range s.orgs {
		if org.ParentID != "" && org.ParentID == parentID {
			out = append(out, org)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
