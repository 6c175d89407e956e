package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleSales    UserRole = "sales"
	RoleOperator UserRole = "operator"
	RoleFactory  UserRole = "factory"
)

// ValidRole reports whether the role is one of the four known roles.
func ValidRole(role UserRole) bool {
	switch role {
	case RoleAdmin, RoleSales, RoleOperator, RoleFactory:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
// Removal is a soft delete: deleted_at is stamped and the row is
// excluded from default queries, never physically removed.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         UserRole   `db:"role" json:"role"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the user is not tombstoned.
func (u *User) Active() bool {
	return u != nil && u.DeletedAt == nil
}

// UserSummary is the identity shape embedded in aggregates.
type UserSummary struct {
	ID       string   `db:"id" json:"id"`
	Username string   `db:"username" json:"username"`
	Role     UserRole `db:"role" json:"role,omitempty"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role           *UserRole
	Search         string
	IncludeDeleted bool
	Page           int
	PageSize       int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
