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

const gradeColumns = `g.id, g.student_id, g.course_id, g.semester, g.academic_year, g.ca_marks, g.exam_marks, g.total_marks, g.letter_grade, g.grade_points, g.status, g.remarks, g.graded_by, g.published_by, g.published_at, g.created_at, g.updated_at`

const gradeDetailSelect = `SELECT ` + gradeColumns + `, c.code AS course_code, c.name AS course_name, c.credits, s.matricule
FROM grades g JOIN courses c ON c.id = g.course_id JOIN students s ON s.id = g.student_id`

// GradeRepository persists course grades.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs a GradeRepository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// BeginTxx starts a transaction on the underlying pool.
func (r *GradeRepository) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, opts)
}

// FindByID returns a grade by id.
func (r *GradeRepository) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, `SELECT `+gradeColumns+` FROM grades g WHERE g.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find grade: %w", err)
	}
	return &grade, nil
}

// FindForOffering returns the grade of a student in a course offering. Inside tx the
// row is locked FOR UPDATE.
func (r *GradeRepository) FindForOffering(ctx context.Context, tx *sqlx.Tx, studentID, courseID, semester, year string) (*models.Grade, error) {
	query := `SELECT ` + gradeColumns + ` FROM grades g WHERE g.student_id = $1 AND g.course_id = $2 AND g.semester = $3 AND g.academic_year = $4`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	var grade models.Grade
	if err := sqlx.GetContext(ctx, pick(r.db, tx), &grade, query, studentID, courseID, semester, year); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find grade for offering: %w", err)
	}
	return &grade, nil
}

// Insert stores a new grade row.
func (r *GradeRepository) Insert(ctx context.Context, tx *sqlx.Tx, grade *models.Grade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	grade.CreatedAt, grade.UpdatedAt = now, now
	const query = `INSERT INTO grades (id, student_id, course_id, semester, academic_year, ca_marks, exam_marks, total_marks, letter_grade, grade_points, status, remarks, graded_by, created_at, updated_at)
VALUES (:id, :student_id, :course_id, :semester, :academic_year, :ca_marks, :exam_marks, :total_marks, :letter_grade, :grade_points, :status, :remarks, :graded_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, tx), query, grade); err != nil {
		return fmt.Errorf("insert grade: %w", err)
	}
	return nil
}

// UpdateMarks rewrites marks, derived result and status of a grade.
func (r *GradeRepository) UpdateMarks(ctx context.Context, tx *sqlx.Tx, grade *models.Grade) error {
	grade.UpdatedAt = time.Now().UTC()
	const query = `UPDATE grades SET ca_marks = :ca_marks, exam_marks = :exam_marks, total_marks = :total_marks, letter_grade = :letter_grade,
grade_points = :grade_points, status = :status, remarks = :remarks, graded_by = :graded_by, published_by = :published_by, published_at = :published_at, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, tx), query, grade); err != nil {
		return fmt.Errorf("update grade: %w", err)
	}
	return nil
}

// List returns grades with course info.
func (r *GradeRepository) List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, int, error) {
	var conditions []string
	var args []interface{}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("g.student_id", filter.StudentID)
	add("g.course_id", filter.CourseID)
	add("c.lecturer_id", filter.LecturerID)
	add("c.faculty_id", filter.FacultyID)
	if len(filter.FacultyIDs) > 0 {
		args = append(args, pq.Array(filter.FacultyIDs))
		conditions = append(conditions, fmt.Sprintf("c.faculty_id = ANY($%d)", len(args)))
	}
	add("g.semester", filter.Semester)
	add("g.academic_year", filter.AcademicYear)
	add("g.status", string(filter.Status))

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)
	query := fmt.Sprintf("%s%s ORDER BY g.academic_year DESC, g.semester DESC, c.code ASC LIMIT %d OFFSET %d", gradeDetailSelect, where, limit, offset)

	var grades []models.GradeDetail
	if err := r.db.SelectContext(ctx, &grades, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list grades: %w", err)
	}
	var total int
	countQuery := "SELECT COUNT(*) FROM grades g JOIN courses c ON c.id = g.course_id" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count grades: %w", err)
	}
	return grades, total, nil
}

// LockByIDs loads and locks the selected grades inside tx.
func (r *GradeRepository) LockByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.Grade, error) {
	query := `SELECT ` + gradeColumns + ` FROM grades g WHERE g.id = ANY($1) ORDER BY g.id FOR UPDATE`
	var grades []models.Grade
	if err := tx.SelectContext(ctx, &grades, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lock grades: %w", err)
	}
	return grades, nil
}

// LockOffering loads and locks every grade of a course offering inside tx.
func (r *GradeRepository) LockOffering(ctx context.Context, tx *sqlx.Tx, courseID, semester, year string) ([]models.Grade, error) {
	query := `SELECT ` + gradeColumns + ` FROM grades g WHERE g.course_id = $1 AND g.semester = $2 AND g.academic_year = $3 ORDER BY g.id FOR UPDATE`
	var grades []models.Grade
	if err := tx.SelectContext(ctx, &grades, query, courseID, semester, year); err != nil {
		return nil, fmt.Errorf("lock offering grades: %w", err)
	}
	return grades, nil
}

// SetStatus moves the listed grades to status, stamping publisher fields when publishing.
func (r *GradeRepository) SetStatus(ctx context.Context, tx *sqlx.Tx, ids []string, status models.GradeStatus, actorID string, at time.Time) error {
	var query string
	args := []interface{}{pq.Array(ids), status, at}
	if status == models.GradeStatusPublished {
		query = `UPDATE grades SET status = $2, updated_at = $3, published_by = $4, published_at = $3 WHERE id = ANY($1)`
		args = append(args, actorID)
	} else {
		query = `UPDATE grades SET status = $2, updated_at = $3 WHERE id = ANY($1)`
	}
	if _, err := pick(r.db, tx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set grade status: %w", err)
	}
	return nil
}

// Finalised returns a student's published and locked grades with credits.
func (r *GradeRepository) Finalised(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.GradeDetail, error) {
	query := gradeDetailSelect + ` WHERE g.student_id = $1 AND g.status IN ('published', 'locked') ORDER BY g.academic_year, g.semester, c.code`
	var grades []models.GradeDetail
	if err := sqlx.SelectContext(ctx, pick(r.db, tx), &grades, query, studentID); err != nil {
		return nil, fmt.Errorf("list finalised grades: %w", err)
	}
	return grades, nil
}
