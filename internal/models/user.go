package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin              UserRole = "admin"
	RoleStudent            UserRole = "student"
	RoleTeacher            UserRole = "teacher"
	RoleFinanceStaff       UserRole = "finance_staff"
	RoleHRStaff            UserRole = "hr_staff"
	RoleMarketingStaff     UserRole = "marketing_staff"
	RoleEmployee           UserRole = "employee"
	RoleFacultyCoordinator UserRole = "faculty_coordinator"
	RoleMajorCoordinator   UserRole = "major_coordinator"
)

// AllRoles lists every role known to the system.
var AllRoles = []UserRole{
	RoleAdmin,
	RoleStudent,
	RoleTeacher,
	RoleFinanceStaff,
	RoleHRStaff,
	RoleMarketingStaff,
	RoleEmployee,
	RoleFacultyCoordinator,
	RoleMajorCoordinator,
}

// Valid reports whether the role is part of the closed role set.
func (r UserRole) Valid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// IsCoordinator reports whether the role is scoped to a faculty or major.
func (r UserRole) IsCoordinator() bool {
	return r == RoleFacultyCoordinator || r == RoleMajorCoordinator
}

// IsStaff reports whether the role belongs to administrative staff.
func (r UserRole) IsStaff() bool {
	switch r {
	case RoleAdmin, RoleFinanceStaff, RoleHRStaff, RoleMarketingStaff, RoleEmployee:
		return true
	default:
		return false
	}
}

// User represents an application user stored in the users table.
type User struct {
	ID                string     `db:"id" json:"id"`
	Email             string     `db:"email" json:"email"`
	PasswordHash      string     `db:"password_hash" json:"-"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	Role              UserRole   `db:"role" json:"role"`
	Active            bool       `db:"active" json:"active"`
	LastLogin         *time.Time `db:"last_login" json:"last_login,omitempty"`
	ResetToken        *string    `db:"reset_token" json:"-"`
	ResetTokenExpires *time.Time `db:"reset_token_expires" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last names.
func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	if u.FirstName == "" {
		return u.LastName
	}
	return u.FirstName + " " + u.LastName
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NewPagination normalises page values the same way repositories do.
func NewPagination(page, size, total int) *Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &Pagination{Page: page, PageSize: size, TotalCount: total}
}

// CreateUserRequest is used by administrators to provision accounts of any role.
type CreateUserRequest struct {
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required,min=8"`
	FirstName string   `json:"first_name" validate:"required"`
	LastName  string   `json:"last_name" validate:"required"`
	Role      UserRole `json:"role" validate:"required"`
}

// UpdateUserRequest changes mutable user attributes.
type UpdateUserRequest struct {
	FirstName *string   `json:"first_name"`
	LastName  *string   `json:"last_name"`
	Role      *UserRole `json:"role"`
	Active    *bool     `json:"active"`
}
