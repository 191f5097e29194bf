package auth

import (
	"github.com/google/uuid"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
)

// CanAccessResource passes when the identity owns the resource or holds a
// role at admin level or above.
func CanAccessResource(id *domain.Identity, ownerID uuid.UUID) bool {
	if id == nil {
		return false
	}
	if id.UserID == ownerID {
		return true
	}
	return id.Level() >= domain.RoleLevel(domain.RoleAdmin)
}

// RequireLevel returns domain.ErrForbidden unless the identity holds a role
// at least as high as role.
func RequireLevel(id *domain.Identity, role string) error {
	if id == nil || id.Level() < domain.RoleLevel(role) {
		return domain.ErrForbidden
	}
	return nil
}
