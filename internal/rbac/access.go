package rbac

// Actor is the authenticated party making a request. It carries everything
// the decision functions need so nothing has to be recovered from framework
// state; handlers build it once from verified token claims and pass it down
// explicitly.
type Actor struct {
	UserID         string
	Role           Role
	OrganizationID string
	// OrganizationParentID is the parent of the actor's own organization
	// ("" at the root). It only matters for detecting the unsupported case
	// of reaching upward.
	OrganizationParentID string
}

// CanAccessOrganization decides whether an actor in actorOrgID may touch
// resources owned by targetOrgID. Reach is strictly downward: the actor's
// own organization always, a direct child only for OWNER/ADMIN, and never a
// parent or sibling. Empty parent ids mean "no parent".
func CanAccessOrganization(role Role, actorOrgID, actorOrgParentID, targetOrgID, targetOrgParentID string) bool {
	if actorOrgID == "" || targetOrgID == "" {
		return false
	}
	if actorOrgID == targetOrgID {
		return true
	}
	if (role == RoleOwner || role == RoleAdmin) &&
		targetOrgParentID != "" && targetOrgParentID == actorOrgID {
		return true
	}
	// Child org actors cannot reach the parent org, regardless of role.
	return false
}

// CanPerformAction is the single authorization gate for write and
// destructive actions: the actor must hold the permission and the target
// organization must be within reach. The permission check runs first and
// short-circuits.
func CanPerformAction(role Role, perm Permission, actorOrgID, actorOrgParentID, targetOrgID, targetOrgParentID string) bool {
	if !HasPermission(role, perm) {
		return false
	}
	return CanAccessOrganization(role, actorOrgID, actorOrgParentID, targetOrgID, targetOrgParentID)
}
