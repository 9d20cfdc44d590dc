package authz

import (
	"context"
	"fmt"

	"github.com/auth9/auth9core/core"
)

// ValidateNoCycle is the write-time counterpart to rbac.Service's
// defensive read-path depth guard: it must be called before persisting a
// new or updated ParentRoleID so that a cycle is rejected at the point of
// creation rather than merely tolerated at resolution time.
//
// candidateParentID is the ParentRoleID being proposed for roleID (empty
// string means "no parent", always valid).
func ValidateNoCycle(ctx context.Context, roles core.RoleStore, roleID, candidateParentID string) error {
	if candidateParentID == "" {
		return nil
	}
	if candidateParentID == roleID {
		return fmt.Errorf("role cannot be its own parent")
	}

	visited := map[string]bool{roleID: true}
	current := candidateParentID
	for depth := 0; depth < maxRoleChainLength; depth++ {
		if visited[current] {
			return fmt.Errorf("role hierarchy would contain a cycle at %q", current)
		}
		visited[current] = true

		role, err := roles.GetByID(ctx, current)
		if err != nil {
			return fmt.Errorf("resolve parent role %q: %w", current, err)
		}
		if role.ParentRoleID == nil {
			return nil
		}
		current = *role.ParentRoleID
	}
	return fmt.Errorf("role hierarchy exceeds maximum depth of %d", maxRoleChainLength)
}

const maxRoleChainLength = 16
