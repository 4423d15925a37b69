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

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

const courseColumns = `id, code, name, description, credits, department_id, faculty_id, lecturer_id, semester, academic_year, max_enrollment, current_enrollment, prerequisites, status, created_at, updated_at`

// CourseRepository persists course offerings.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs a CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses matching filters with total count.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var conditions []string
	var args []interface{}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("department_id", filter.DepartmentID)
	add("faculty_id", filter.FacultyID)
	add("lecturer_id", filter.LecturerID)
	add("semester", filter.Semester)
	add("academic_year", filter.AcademicYear)
	add("status", string(filter.Status))
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(code) LIKE $%d OR LOWER(name) LIKE $%d)", len(args), len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s FROM courses%s ORDER BY code ASC LIMIT %d OFFSET %d", courseColumns, where, limit, offset)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM courses"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by id.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	return r.find(ctx, r.db, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id)
}

// LockByID loads a course row FOR UPDATE inside tx.
func (r *CourseRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error) {
	return r.find(ctx, tx, `SELECT `+courseColumns+` FROM courses WHERE id = $1 FOR UPDATE`, id)
}

func (r *CourseRepository) find(ctx context.Context, q sqlx.QueryerContext, query, id string) (*models.Course, error) {
	var course models.Course
	if err := sqlx.GetContext(ctx, q, &course, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// Create inserts a course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt, course.UpdatedAt = now, now
	if course.Status == "" {
		course.Status = models.CourseStatusActive
	}
	const query = `INSERT INTO courses (` + courseColumns + `)
VALUES (:id, :code, :name, :description, :credits, :department_id, :faculty_id, :lecturer_id, :semester, :academic_year, :max_enrollment, :current_enrollment, :prerequisites, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update writes all mutable course fields.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET code = :code, name = :name, description = :description, credits = :credits, department_id = :department_id,
faculty_id = :faculty_id, lecturer_id = :lecturer_id, semester = :semester, academic_year = :academic_year, max_enrollment = :max_enrollment,
prerequisites = :prerequisites, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// AdjustEnrollment changes current_enrollment by delta without going below zero.
func (r *CourseRepository) AdjustEnrollment(ctx context.Context, tx *sqlx.Tx, id string, delta int) error {
	const query = `UPDATE courses SET current_enrollment = GREATEST(current_enrollment + $2, 0), updated_at = $3 WHERE id = $1`
	if _, err := pick(r.db, tx).ExecContext(ctx, query, id, delta, time.Now().UTC()); err != nil {
		return fmt.Errorf("adjust course enrollment: %w", err)
	}
	return nil
}
