package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskdeck.org/internal/audit"
	"taskdeck.org/internal/rbac"
	"taskdeck.org/internal/task"
)

// ErrInvalidCredentials covers both unknown emails and wrong passwords, so
// responses never reveal which half failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

// OrganizationDirectory resolves the actor's organization at login. Any
// task.Store satisfies it.
type OrganizationDirectory interface {
	GetOrganization(ctx context.Context, id string) (task.Organization, error)
}

// Service issues tokens for known users.
type Service struct {
	users UserStore
	orgs  OrganizationDirectory
	audit *audit.Recorder
	ttl   time.Duration
}

// Option configures Service behavior.
type Option func(*Service)

// WithTokenTTL overrides the issued token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService constructs the login service.
func NewService(users UserStore, orgs OrganizationDirectory, rec *audit.Recorder, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if orgs == nil {
		return nil, errors.New("auth: organization directory is required")
	}
	if rec == nil {
		return nil, errors.New("auth: audit recorder is required")
	}
	s := &Service{users: users, orgs: orgs, audit: rec, ttl: DefaultTokenTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login verifies the credentials and returns a signed token plus the actor
// it names. The parent organization is resolved here once so authorization
// never needs a directory lookup per request for the actor's own scope.
func (s *Service) Login(ctx context.Context, email, password string) (string, rbac.Actor, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", rbac.Actor{}, ErrInvalidCredentials
	}

	user, err := s.users.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return "", rbac.Actor{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", rbac.Actor{}, fmt.Errorf("find user: %w", err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return "", rbac.Actor{}, ErrInvalidCredentials
	}

	parentID := ""
	org, err := s.orgs.GetOrganization(ctx, user.OrganizationID)
	switch {
	case err == nil:
		parentID = org.ParentID
	case errors.Is(err, task.ErrNotFound):
		// Login still succeeds; the actor's reach degrades to same-org.
	default:
		return "", rbac.Actor{}, fmt.Errorf("get organization: %w", err)
	}

	actor := rbac.Actor{
		UserID:               user.ID,
		Role:                 user.Role,
		OrganizationID:       user.OrganizationID,
		OrganizationParentID: parentID,
	}
	token, err := GenerateToken(actor, s.ttl)
	if err != nil {
		return "", rbac.Actor{}, err
	}

	if err := s.audit.Record(ctx, user.ID, audit.ActionLogin, "auth", audit.ResultSuccess, map[string]string{
		"email": user.Email,
	}); err != nil {
		return "", rbac.Actor{}, err
	}
	return token, actor, nil
}
