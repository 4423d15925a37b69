package models

import "time"

// ComplaintStatus is monotonic: pending -> under_review -> resolved|rejected.
type ComplaintStatus string

const (
	ComplaintStatusPending     ComplaintStatus = "pending"
	ComplaintStatusUnderReview ComplaintStatus = "under_review"
	ComplaintStatusResolved    ComplaintStatus = "resolved"
	ComplaintStatusRejected    ComplaintStatus = "rejected"
)

// Final reports whether no further response is accepted.
func (s ComplaintStatus) Final() bool {
	return s == ComplaintStatusResolved || s == ComplaintStatusRejected
}

// ComplaintPriority ranks complaints.
type ComplaintPriority string

const (
	ComplaintPriorityLow    ComplaintPriority = "low"
	ComplaintPriorityMedium ComplaintPriority = "medium"
	ComplaintPriorityHigh   ComplaintPriority = "high"
	ComplaintPriorityUrgent ComplaintPriority = "urgent"
)

// Complaint is raised by a student about a course.
type Complaint struct {
	ID           string            `db:"id" json:"id"`
	StudentID    string            `db:"student_id" json:"student_id"`
	CourseID     string            `db:"course_id" json:"course_id"`
	LecturerID   *string           `db:"lecturer_id" json:"lecturer_id,omitempty"`
	Subject      string            `db:"subject" json:"subject"`
	Description  string            `db:"description" json:"description"`
	Category     string            `db:"category" json:"category"`
	Priority     ComplaintPriority `db:"priority" json:"priority"`
	Status       ComplaintStatus   `db:"status" json:"status"`
	Response     *string           `db:"response" json:"response,omitempty"`
	RespondedBy  *string           `db:"responded_by" json:"responded_by,omitempty"`
	ResolvedAt   *time.Time        `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// ComplaintFilter scopes complaint listings.
type ComplaintFilter struct {
	StudentID  string
	LecturerID string
	FacultyID  string
	FacultyIDs []string
	CourseID   string
	Status     ComplaintStatus
	Page       int
	PageSize   int
}

// CreateComplaintRequest is submitted by a student.
type CreateComplaintRequest struct {
	CourseID    string            `json:"course_id" validate:"required"`
	Subject     string            `json:"subject" validate:"required,max=200"`
	Description string            `json:"description" validate:"required"`
	Category    string            `json:"category" validate:"required,oneof=grade attendance teaching schedule other"`
	Priority    ComplaintPriority `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
}

// RespondComplaintRequest moves a complaint forward.
type RespondComplaintRequest struct {
	Response string          `json:"response" validate:"required"`
	Status   ComplaintStatus `json:"status" validate:"required,oneof=under_review resolved rejected"`
}
