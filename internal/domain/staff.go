package domain

import "time"

// StaffRole enumerates service-center operator roles.
type StaffRole string

const (
	StaffRoleTechnician StaffRole = "TECHNICIAN"
	StaffRoleSupervisor StaffRole = "SUPERVISOR"
	StaffRoleAdmin      StaffRole = "ADMIN"
)

// Staff models a technician, supervisor or administrator.
type Staff struct {
	ID              string
	Name            string
	Email           string
	PasswordHash    string
	Role            StaffRole
	ServiceCenterID string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
