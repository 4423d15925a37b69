package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

const enrollmentColumns = `e.id, e.student_id, e.course_id, e.semester, e.academic_year, e.status, e.final_grade, e.credits_earned, e.enrolled_at, e.updated_at`

// EnrollmentRepository manages student course enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs an EnrollmentRepository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// BeginTxx starts a transaction on the underlying pool.
func (r *EnrollmentRepository) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, opts)
}

// List returns enrollments with student and course info.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var conditions []string
	var args []interface{}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("e.student_id", filter.StudentID)
	add("e.course_id", filter.CourseID)
	add("c.lecturer_id", filter.LecturerID)
	add("c.faculty_id", filter.FacultyID)
	if len(filter.FacultyIDs) > 0 {
		args = append(args, pq.Array(filter.FacultyIDs))
		conditions = append(conditions, fmt.Sprintf("c.faculty_id = ANY($%d)", len(args)))
	}
	add("e.semester", filter.Semester)
	add("e.academic_year", filter.AcademicYear)
	add("e.status", string(filter.Status))

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)
	from := ` FROM enrollments e JOIN students s ON s.id = e.student_id JOIN courses c ON c.id = e.course_id`

	query := fmt.Sprintf(`SELECT %s, s.matricule, s.first_name || ' ' || s.last_name AS student_name, c.code AS course_code, c.name AS course_name%s%s ORDER BY e.enrolled_at DESC LIMIT %d OFFSET %d`,
		enrollmentColumns, from, where, limit, offset)
	var items []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+from+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return items, total, nil
}

// FindByID returns a single enrollment.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, `SELECT `+enrollmentColumns+` FROM enrollments e WHERE e.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// FindForOffering locates a student's enrollment in a course offering.
func (r *EnrollmentRepository) FindForOffering(ctx context.Context, tx *sqlx.Tx, studentID, courseID, semester, year string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments e WHERE e.student_id = $1 AND e.course_id = $2 AND e.semester = $3 AND e.academic_year = $4`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, pick(r.db, tx), &enrollment, query, studentID, courseID, semester, year); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment for offering: %w", err)
	}
	return &enrollment, nil
}

// IsEnrolled reports whether the student holds any non-withdrawn enrollment in the course.
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status <> 'withdrawn')`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// CompletedCourseCodes returns codes of courses the student has completed.
func (r *EnrollmentRepository) CompletedCourseCodes(ctx context.Context, tx *sqlx.Tx, studentID string) ([]string, error) {
	const query = `SELECT DISTINCT c.code FROM enrollments e JOIN courses c ON c.id = e.course_id WHERE e.student_id = $1 AND e.status = 'completed'`
	var codes []string
	if err := sqlx.SelectContext(ctx, pick(r.db, tx), &codes, query, studentID); err != nil {
		return nil, fmt.Errorf("list completed courses: %w", err)
	}
	return codes, nil
}

// Create inserts an enrollment inside tx.
func (r *EnrollmentRepository) Create(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.EnrolledAt, enrollment.UpdatedAt = now, now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusEnrolled
	}
	const query = `INSERT INTO enrollments (id, student_id, course_id, semester, academic_year, status, credits_earned, enrolled_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := pick(r.db, tx).ExecContext(ctx, query, enrollment.ID, enrollment.StudentID, enrollment.CourseID, enrollment.Semester,
		enrollment.AcademicYear, enrollment.Status, enrollment.CreditsEarned, enrollment.EnrolledAt, enrollment.UpdatedAt); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatus sets status, final grade and credits of an enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, status models.EnrollmentStatus, finalGrade *string, credits int) error {
	const query = `UPDATE enrollments SET status = $2, final_grade = $3, credits_earned = $4, updated_at = $5 WHERE id = $1`
	if _, err := pick(r.db, tx).ExecContext(ctx, query, id, status, finalGrade, credits, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}
