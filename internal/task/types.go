package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Status is the kanban column a task sits in.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// ParseStatus validates a status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
}

// Category classifies the kind of work a task represents.
type Category string

const (
	CategoryFeature       Category = "FEATURE"
	CategoryBug           Category = "BUG"
	CategoryDocumentation Category = "DOCUMENTATION"
	CategoryResearch      Category = "RESEARCH"
)

// ParseCategory validates a category value.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(raw)))
	switch c {
	case CategoryFeature, CategoryBug, CategoryDocumentation, CategoryResearch:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidInput, raw)
	}
}

// Organization is one tenant. Organizations form a forest: each has at most
// one parent, referenced by ParentID ("" at the root).
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is owned by exactly one organization. The owning organization is
// fixed at creation; there is no reparenting.
type Task struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Category       Category  `json:"category"`
	Status         Status    `json:"status"`
	OrderIndex     int       `json:"order_index"`
	OrganizationID string    `json:"organization_id"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateInput carries the caller-supplied fields for a new task. The owning
// organization and creator always come from the actor, never from input.
type CreateInput struct {
	Title       string
	Description string
	Category    Category
	Status      Status
	OrderIndex  *int
}

// Validate checks the input before any authorization decision is made.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if _, err := ParseCategory(string(in.Category)); err != nil {
		return err
	}
	if _, err := ParseStatus(string(in.Status)); err != nil {
		return err
	}
	return nil
}

// Patch describes a partial update: only non-nil fields change.
type Patch struct {
	Title       *string
	Description *string
	Category    *Category
	Status      *Status
	OrderIndex  *int
}

// Validate checks every supplied field.
func (p Patch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
	}
	if p.Category != nil {
		if _, err := ParseCategory(string(*p.Category)); err != nil {
			return err
		}
	}
	if p.Status != nil {
		if _, err := ParseStatus(string(*p.Status)); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil && p.Status == nil && p.OrderIndex == nil
}

// changes lists the applied fields for audit metadata.
func (p Patch) changes() map[string]string {
	out := map[string]string{}
	if p.Title != nil {
		out["title"] = *p.Title
	}
	if p.Description != nil {
		out["description"] = *p.Description
	}
	if p.Category != nil {
		out["category"] = string(*p.Category)
	}
	if p.Status != nil {
		out["status"] = string(*p.Status)
	}
	if p.OrderIndex != nil {
		out["order_index"] = fmt.Sprintf("%d", *p.OrderIndex)
	}
	return out
}
