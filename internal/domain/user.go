package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role names as stored in the roles table.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleStaff      = "staff"
	RoleUser       = "user"
	RoleGuest      = "guest"
)

var roleLevels = map[string]int{
	RoleSuperAdmin: 100,
	RoleAdmin:      80,
	RoleManager:    60,
	RoleStaff:      40,
	RoleUser:       20,
	RoleGuest:      10,
}

// RoleLevel returns the hierarchy level of a role name, 0 when unknown.
func RoleLevel(role string) int {
	return roleLevels[role]
}

type User struct {
	ID        uuid.UUID
	Email     string
	IsActive  bool
	Roles     []string
	CreatedAt time.Time
}

// Identity is what a verified credential resolves to.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Roles  []string
}

// Level is the highest hierarchy level among the identity's roles.
func (i Identity) Level() int {
	level := 0
	for _, r := range i.Roles {
		if l := RoleLevel(r); l > level {
			level = l
		}
	}
	return level
}

type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*User, error)
}
