package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled   EnrollmentStatus = "enrolled"
	EnrollmentStatusWithdrawn  EnrollmentStatus = "withdrawn"
	EnrollmentStatusCompleted  EnrollmentStatus = "completed"
	EnrollmentStatusFailed     EnrollmentStatus = "failed"
	EnrollmentStatusInProgress EnrollmentStatus = "in_progress"
)

// Counts reports whether the enrollment occupies a seat in the course.
func (s EnrollmentStatus) Counts() bool {
	return s == EnrollmentStatusEnrolled || s == EnrollmentStatusInProgress
}

// Enrollment links a student to a course for a semester and academic year.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	CourseID      string           `db:"course_id" json:"course_id"`
	Semester      string           `db:"semester" json:"semester"`
	AcademicYear  string           `db:"academic_year" json:"academic_year"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	FinalGrade    *string          `db:"final_grade" json:"final_grade,omitempty"`
	CreditsEarned int              `db:"credits_earned" json:"credits_earned"`
	EnrolledAt    time.Time        `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	Matricule   string `db:"matricule" json:"matricule"`
	StudentName string `db:"student_name" json:"student_name"`
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseName  string `db:"course_name" json:"course_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID    string
	CourseID     string
	LecturerID   string
	FacultyID    string
	FacultyIDs   []string
	Semester     string
	AcademicYear string
	Status       EnrollmentStatus
	Page         int
	PageSize     int
}

// EnrollRequest enrolls a student in a course offering.
type EnrollRequest struct {
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id" validate:"required"`
}
