package models

import (
	"math"
	"time"
)

// GradeStatus represents the grading workflow state.
type GradeStatus string

const (
	GradeStatusDraft     GradeStatus = "draft"
	GradeStatusPublished GradeStatus = "published"
	GradeStatusLocked    GradeStatus = "locked"
)

// Mark bounds for continuous assessment and exam.
const (
	MaxCAMarks   = 30.0
	MaxExamMarks = 70.0
)

// Grade stores a student's marks for a course offering.
type Grade struct {
	ID           string      `db:"id" json:"id"`
	StudentID    string      `db:"student_id" json:"student_id"`
	CourseID     string      `db:"course_id" json:"course_id"`
	Semester     string      `db:"semester" json:"semester"`
	AcademicYear string      `db:"academic_year" json:"academic_year"`
	CAMarks      float64     `db:"ca_marks" json:"ca_marks"`
	ExamMarks    float64     `db:"exam_marks" json:"exam_marks"`
	TotalMarks   float64     `db:"total_marks" json:"total_marks"`
	LetterGrade  string      `db:"letter_grade" json:"letter_grade"`
	GradePoints  float64     `db:"grade_points" json:"grade_points"`
	Status       GradeStatus `db:"status" json:"status"`
	Remarks      *string     `db:"remarks" json:"remarks,omitempty"`
	GradedBy     *string     `db:"graded_by" json:"graded_by,omitempty"`
	PublishedBy  *string     `db:"published_by" json:"published_by,omitempty"`
	PublishedAt  *time.Time  `db:"published_at" json:"published_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// Apply copies the computed total, letter and points onto the grade.
func (g *Grade) Apply(result GradeResult) {
	g.TotalMarks = result.Total
	g.LetterGrade = result.Letter
	g.GradePoints = result.Points
}

// GradeDetail enriches a grade with course info for listings and transcripts.
type GradeDetail struct {
	Grade
	CourseCode string `db:"course_code" json:"course_code"`
	CourseName string `db:"course_name" json:"course_name"`
	Credits    int    `db:"credits" json:"credits"`
	Matricule  string `db:"matricule" json:"matricule"`
}

// GradeFilter scopes grade listings.
type GradeFilter struct {
	StudentID    string
	CourseID     string
	LecturerID   string
	FacultyID    string
	FacultyIDs   []string
	Semester     string
	AcademicYear string
	Status       GradeStatus
	Page         int
	PageSize     int
}

// GradeResult is the outcome of ComputeGrade.
type GradeResult struct {
	Total  float64 `json:"total_marks"`
	Letter string  `json:"letter_grade"`
	Points float64 `json:"grade_points"`
}

type gradeBand struct {
	min    float64
	letter string
	points float64
}

var gradeBands = []gradeBand{
	{80, "A", 4.0},
	{75, "B+", 3.5},
	{70, "B", 3.0},
	{65, "C+", 2.5},
	{60, "C", 2.0},
	{55, "D+", 1.5},
	{50, "D", 1.0},
}

// ComputeGrade derives total, letter and points from CA (0..30) and exam (0..70) marks.
// Callers validate the bounds; totals are rounded to two decimals.
func ComputeGrade(ca, exam float64) GradeResult {
	total := math.Round((ca+exam)*100) / 100
	for _, band := range gradeBands {
		if total >= band.min {
			return GradeResult{Total: total, Letter: band.letter, Points: band.points}
		}
	}
	return GradeResult{Total: total, Letter: "F", Points: 0}
}

// ValidMarks reports whether both marks are within their bounds.
func ValidMarks(ca, exam float64) bool {
	return ca >= 0 && ca <= MaxCAMarks && exam >= 0 && exam <= MaxExamMarks
}

// WeightedGPA computes a credit-weighted GPA rounded to two decimals.
func WeightedGPA(grades []GradeDetail) (gpa float64, credits int) {
	var points float64
	for _, g := range grades {
		points += g.GradePoints * float64(g.Credits)
		credits += g.Credits
	}
	if credits == 0 {
		return 0, 0
	}
	return math.Round(points/float64(credits)*100) / 100, credits
}

// Transcript lists a student's finalised grades.
type Transcript struct {
	Student      StudentDetail `json:"student"`
	Grades       []GradeDetail `json:"grades"`
	GPA          float64       `json:"gpa"`
	TotalCredits int           `json:"total_credits"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

// GradeUpsertRequest writes marks for one student in a course offering.
type GradeUpsertRequest struct {
	StudentID    string  `json:"student_id" validate:"required"`
	CourseID     string  `json:"course_id" validate:"required"`
	Semester     string  `json:"semester" validate:"required"`
	AcademicYear string  `json:"academic_year" validate:"required"`
	CAMarks      float64 `json:"ca_marks" validate:"min=0,max=30"`
	ExamMarks    float64 `json:"exam_marks" validate:"min=0,max=70"`
	Remarks      *string `json:"remarks"`
	Reopen       bool    `json:"reopen"`
}

// BulkGradeRequest writes many grades in a single transaction.
type BulkGradeRequest struct {
	Grades []GradeUpsertRequest `json:"grades" validate:"required,min=1,dive"`
}

// PublishGradesRequest selects grades either by ids or by course offering.
type PublishGradesRequest struct {
	GradeIDs     []string `json:"grade_ids"`
	CourseID     string   `json:"course_id"`
	Semester     string   `json:"semester"`
	AcademicYear string   `json:"academic_year"`
}

// ByOffering reports whether the request selects by course offering.
func (r PublishGradesRequest) ByOffering() bool {
	return len(r.GradeIDs) == 0 && r.CourseID != "" && r.Semester != "" && r.AcademicYear != ""
}
