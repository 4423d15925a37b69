package models

import (
	"fmt"
	"time"
)

// StudentStatus represents the lifecycle of a student record.
type StudentStatus string

const (
	StudentStatusActive    StudentStatus = "active"
	StudentStatusInactive  StudentStatus = "inactive"
	StudentStatusGraduated StudentStatus = "graduated"
	StudentStatusSuspended StudentStatus = "suspended"
	StudentStatusDeleted   StudentStatus = "deleted"
)

// MatriculePrefix is the institution code prepended to every matricule.
const MatriculePrefix = "ICTU"

// FormatMatricule renders ICTU<year><4-digit sequence>.
func FormatMatricule(year, sequence int) string {
	return fmt.Sprintf("%s%d%04d", MatriculePrefix, year, sequence)
}

// Student represents a learner registered in the institution.
type Student struct {
	ID           string        `db:"id" json:"id"`
	Matricule    string        `db:"matricule" json:"matricule"`
	UserID       string        `db:"user_id" json:"user_id"`
	FirstName    string        `db:"first_name" json:"first_name"`
	LastName     string        `db:"last_name" json:"last_name"`
	Gender       *string       `db:"gender" json:"gender,omitempty"`
	DateOfBirth  *time.Time    `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Phone        *string       `db:"phone" json:"phone,omitempty"`
	Address      *string       `db:"address" json:"address,omitempty"`
	FacultyID    *string       `db:"faculty_id" json:"faculty_id,omitempty"`
	DepartmentID *string       `db:"department_id" json:"department_id,omitempty"`
	Major        *string       `db:"major" json:"major,omitempty"`
	Level        int           `db:"level" json:"level"`
	Status       StudentStatus `db:"status" json:"status"`
	GPA          float64       `db:"gpa" json:"gpa"`
	TotalCredits int           `db:"total_credits" json:"total_credits"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	IDs          []string
	Search       string
	FacultyID    string
	FacultyIDs   []string
	DepartmentID string
	Status       StudentStatus
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// StudentDetail contains student information with account and faculty context.
type StudentDetail struct {
	Student
	Email       string  `db:"email" json:"email"`
	FacultyName *string `db:"faculty_name" json:"faculty_name,omitempty"`
}

// Faculty groups departments under a coordinator.
type Faculty struct {
	ID            string    `db:"id" json:"id"`
	Code          string    `db:"code" json:"code"`
	Name          string    `db:"name" json:"name"`
	CoordinatorID *string   `db:"coordinator_id" json:"coordinator_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Department belongs to a faculty.
type Department struct {
	ID            string    `db:"id" json:"id"`
	FacultyID     string    `db:"faculty_id" json:"faculty_id"`
	Name          string    `db:"name" json:"name"`
	CoordinatorID *string   `db:"coordinator_id" json:"coordinator_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// CreateStudentRequest provisions a user account and student profile together.
type CreateStudentRequest struct {
	Email        string     `json:"email" validate:"required,email"`
	Password     string     `json:"password" validate:"required,min=8"`
	FirstName    string     `json:"first_name" validate:"required"`
	LastName     string     `json:"last_name" validate:"required"`
	Gender       *string    `json:"gender" validate:"omitempty,oneof=male female"`
	DateOfBirth  *time.Time `json:"date_of_birth"`
	Phone        *string    `json:"phone"`
	Address      *string    `json:"address"`
	FacultyID    *string    `json:"faculty_id"`
	DepartmentID *string    `json:"department_id"`
	Major        *string    `json:"major"`
	Level        int        `json:"level" validate:"omitempty,min=1,max=8"`
}

// UpdateStudentRequest carries partial updates. Students may only change contact fields.
type UpdateStudentRequest struct {
	FirstName    *string        `json:"first_name"`
	LastName     *string        `json:"last_name"`
	Phone        *string        `json:"phone"`
	Address      *string        `json:"address"`
	FacultyID    *string        `json:"faculty_id"`
	DepartmentID *string        `json:"department_id"`
	Major        *string        `json:"major"`
	Level        *int           `json:"level" validate:"omitempty,min=1,max=8"`
	Status       *StudentStatus `json:"status" validate:"omitempty,oneof=active inactive graduated suspended"`
}

// ContactOnly reports whether the update touches contact fields exclusively.
func (r UpdateStudentRequest) ContactOnly() bool {
	return r.FirstName == nil && r.LastName == nil && r.FacultyID == nil && r.DepartmentID == nil &&
		r.Major == nil && r.Level == nil && r.Status == nil
}
