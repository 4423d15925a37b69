package models

import (
	"time"

	"github.com/lib/pq"
)

// CourseStatus represents whether a course is offered.
type CourseStatus string

const (
	CourseStatusActive    CourseStatus = "active"
	CourseStatusInactive  CourseStatus = "inactive"
	CourseStatusCompleted CourseStatus = "completed"
)

// Course is a unit of study offered for a semester and academic year.
type Course struct {
	ID                string         `db:"id" json:"id"`
	Code              string         `db:"code" json:"code"`
	Name              string         `db:"name" json:"name"`
	Description       *string        `db:"description" json:"description,omitempty"`
	Credits           int            `db:"credits" json:"credits"`
	DepartmentID      *string        `db:"department_id" json:"department_id,omitempty"`
	FacultyID         *string        `db:"faculty_id" json:"faculty_id,omitempty"`
	LecturerID        *string        `db:"lecturer_id" json:"lecturer_id,omitempty"`
	Semester          string         `db:"semester" json:"semester"`
	AcademicYear      string         `db:"academic_year" json:"academic_year"`
	MaxEnrollment     int            `db:"max_enrollment" json:"max_enrollment"`
	CurrentEnrollment int            `db:"current_enrollment" json:"current_enrollment"`
	Prerequisites     pq.StringArray `db:"prerequisites" json:"prerequisites"`
	Status            CourseStatus   `db:"status" json:"status"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// HasCapacity reports whether another student may enroll.
func (c *Course) HasCapacity() bool {
	return c.MaxEnrollment <= 0 || c.CurrentEnrollment < c.MaxEnrollment
}

// TaughtBy reports whether userID is the course lecturer.
func (c *Course) TaughtBy(userID string) bool {
	return c.LecturerID != nil && *c.LecturerID == userID
}

// CourseFilter scopes course listings.
type CourseFilter struct {
	Search       string
	DepartmentID string
	FacultyID    string
	LecturerID   string
	Semester     string
	AcademicYear string
	Status       CourseStatus
	Page         int
	PageSize     int
}

// Timetable is a weekly teaching slot for a course.
type Timetable struct {
	ID           string    `db:"id" json:"id"`
	CourseID     string    `db:"course_id" json:"course_id"`
	LecturerID   *string   `db:"lecturer_id" json:"lecturer_id,omitempty"`
	DayOfWeek    int       `db:"day_of_week" json:"day_of_week"`
	StartTime    string    `db:"start_time" json:"start_time"`
	EndTime      string    `db:"end_time" json:"end_time"`
	Room         string    `db:"room" json:"room"`
	Semester     string    `db:"semester" json:"semester"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	CourseCode   string    `db:"course_code" json:"course_code,omitempty"`
	CourseName   string    `db:"course_name" json:"course_name,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TimetableFilter scopes timetable listings.
type TimetableFilter struct {
	CourseID     string
	LecturerID   string
	StudentID    string
	Semester     string
	AcademicYear string
	DayOfWeek    int
}

// CourseRequest creates or replaces a course.
type CourseRequest struct {
	Code          string   `json:"code" validate:"required,max=20"`
	Name          string   `json:"name" validate:"required"`
	Description   *string  `json:"description"`
	Credits       int      `json:"credits" validate:"min=1,max=12"`
	DepartmentID  *string  `json:"department_id"`
	FacultyID     *string  `json:"faculty_id"`
	LecturerID    *string  `json:"lecturer_id"`
	Semester      string   `json:"semester" validate:"required,oneof=1 2 3"`
	AcademicYear  string   `json:"academic_year" validate:"required"`
	MaxEnrollment int      `json:"max_enrollment" validate:"min=0"`
	Prerequisites []string `json:"prerequisites"`
}

// TimetableRequest schedules a weekly slot.
type TimetableRequest struct {
	CourseID     string  `json:"course_id" validate:"required"`
	LecturerID   *string `json:"lecturer_id"`
	DayOfWeek    int     `json:"day_of_week" validate:"min=1,max=7"`
	StartTime    string  `json:"start_time" validate:"required"`
	EndTime      string  `json:"end_time" validate:"required"`
	Room         string  `json:"room" validate:"required"`
	Semester     string  `json:"semester" validate:"required"`
	AcademicYear string  `json:"academic_year" validate:"required"`
}
