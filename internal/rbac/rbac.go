package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// ErrForbidden indicates a permission or organization-reach check failed.
var ErrForbidden = errors.New("forbidden")

// Role is the coarse access level assigned to every user.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleViewer Role = "VIEWER"
)

// ParseRole normalizes and validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case RoleOwner, RoleAdmin, RoleViewer:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// rank orders roles for AtLeast. Unknown roles rank below everything.
func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether the role sits at or above the required role in the
// Owner > Admin > Viewer ordering. Permission checks do not use this; it
// exists for callers that reason about role seniority directly.
func (r Role) AtLeast(required Role) bool {
	if !r.Valid() || !required.Valid() {
		return false
	}
	return r.rank() >= required.rank()
}

// Permission is an atomic capability token, independent of any particular
// resource instance.
type Permission string

const (
	PermTaskCreate Permission = "task:create"
	PermTaskRead   Permission = "task:read"
	PermTaskUpdate Permission = "task:update"
	PermTaskDelete Permission = "task:delete"
	PermAuditRead  Permission = "audit:read"
)

// rolePermissions is the static role to permission-set table. Permissions
// attach to roles only, never to individual users.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {PermTaskRead},
	RoleAdmin: {
		PermTaskCreate,
		PermTaskRead,
		PermTaskUpdate,
		PermTaskDelete,
		PermAuditRead,
	},
	RoleOwner: {
		PermTaskCreate,
		PermTaskRead,
		PermTaskUpdate,
		PermTaskDelete,
		PermAuditRead,
	},
}

// HasPermission reports whether the role holds the permission. Unknown roles
// hold nothing.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the role's permission set.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
