package dto

import (
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
)

// StaffLoginRequest payload.
type StaffLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// StaffLoginResponse carries the issued token.
type StaffLoginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Staff     StaffResponse `json:"staff"`
}

// RegisterStaffRequest payload (admin only).
type RegisterStaffRequest struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	Role            string `json:"role" validate:"required"`
	ServiceCenterID string `json:"service_center_id" validate:"required"`
}

// StaffResponse representation without credentials.
type StaffResponse struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Email           string           `json:"email"`
	Role            domain.StaffRole `json:"role"`
	ServiceCenterID string           `json:"service_center_id"`
	Active          bool             `json:"active"`
	CreatedAt       time.Time        `json:"created_at"`
}
