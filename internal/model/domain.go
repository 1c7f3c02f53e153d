package model

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin         UserRole = "ADMIN"
	UserRoleSafetyOfficer UserRole = "SAFETY_OFFICER"
	UserRoleViewer        UserRole = "VIEWER"
)

// Principal is the authenticated identity attached to a request by the auth
// middleware.
type Principal struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

// CanManageAssessments reports whether the principal may delete assessment
// history.
func (p Principal) CanManageAssessments() bool {
	return p.Role == UserRoleAdmin || p.Role == UserRoleSafetyOfficer
}
