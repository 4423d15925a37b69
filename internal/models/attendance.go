package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusExcused AttendanceStatus = "excused"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// Attendance represents one student's presence for a course session.
type Attendance struct {
	ID         string           `db:"id" json:"id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	CourseID   string           `db:"course_id" json:"course_id"`
	Date       time.Time        `db:"date" json:"date"`
	Status     AttendanceStatus `db:"status" json:"status"`
	Remarks    *string          `db:"remarks" json:"remarks,omitempty"`
	RecordedBy *string          `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceFilter defines query filters.
type AttendanceFilter struct {
	StudentID  string
	CourseID   string
	LecturerID string
	FacultyID  string
	FacultyIDs []string
	Status     AttendanceStatus
	DateFrom   *time.Time
	DateTo     *time.Time
	Page       int
	PageSize   int
}

// AttendanceSummary aggregates counts per status for a student in a course.
type AttendanceSummary struct {
	StudentID string  `db:"student_id" json:"student_id"`
	CourseID  string  `db:"course_id" json:"course_id"`
	Present   int     `db:"present" json:"present"`
	Absent    int     `db:"absent" json:"absent"`
	Late      int     `db:"late" json:"late"`
	Excused   int     `db:"excused" json:"excused"`
	Total     int     `db:"total" json:"total"`
	Rate      float64 `db:"-" json:"attendance_rate"`
}

// ComputeRate fills Rate as the share of sessions attended (present or late).
func (s *AttendanceSummary) ComputeRate() {
	if s.Total == 0 {
		s.Rate = 0
		return
	}
	s.Rate = float64(s.Present+s.Late) / float64(s.Total) * 100
}

// AttendanceEntry records one student's status.
type AttendanceEntry struct {
	StudentID string           `json:"student_id" validate:"required"`
	Status    AttendanceStatus `json:"status" validate:"required,oneof=present absent late excused"`
	Remarks   *string          `json:"remarks"`
}

// RecordAttendanceRequest records attendance for one student.
type RecordAttendanceRequest struct {
	CourseID string    `json:"course_id" validate:"required"`
	Date     time.Time `json:"date" validate:"required"`
	AttendanceEntry
}

// BulkAttendanceRequest records a whole session at once.
type BulkAttendanceRequest struct {
	CourseID string            `json:"course_id" validate:"required"`
	Date     time.Time         `json:"date" validate:"required"`
	Entries  []AttendanceEntry `json:"entries" validate:"required,min=1,dive"`
}
