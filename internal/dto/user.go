package dto

import "github.com/yarntrack/yarn-track-api/internal/models"

// CreateUserRequest represents the payload for creating users.
type CreateUserRequest struct {
	Username string          `json:"username" validate:"required,max=50"`
	Email    string          `json:"email" validate:"required,email"`
	Password string          `json:"password" validate:"required,min=6"`
	Role     models.UserRole `json:"role" validate:"required,oneof=admin sales operator factory"`
}

// UpdateUserRequest is a sparse patch for user management.
type UpdateUserRequest struct {
	Username *string          `json:"username,omitempty"`
	Email    *string          `json:"email,omitempty" validate:"omitempty,email"`
	Password *string          `json:"password,omitempty" validate:"omitempty,min=6"`
	Role     *models.UserRole `json:"role,omitempty" validate:"omitempty,oneof=admin sales operator factory"`
}
