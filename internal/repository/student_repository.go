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

const studentDetailSelect = `SELECT s.id, s.matricule, s.user_id, s.first_name, s.last_name, s.gender, s.date_of_birth, s.phone, s.address,
        s.faculty_id, s.department_id, s.major, s.level, s.status, s.gpa, s.total_credits, s.created_at, s.updated_at,
        u.email, f.name AS faculty_name
        FROM students s JOIN users u ON u.id = s.user_id LEFT JOIN faculties f ON f.id = s.faculty_id`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters. Deleted students are hidden
// unless the status filter asks for them.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	var args []interface{}
	conditions := []string{"1=1"}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	} else {
		conditions = append(conditions, "s.status <> 'deleted'")
	}
	if len(filter.IDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("s.id = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.IDs))
	}
	if filter.FacultyID != "" {
		conditions = append(conditions, fmt.Sprintf("s.faculty_id = $%d", len(args)+1))
		args = append(args, filter.FacultyID)
	}
	if len(filter.FacultyIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("s.faculty_id = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.FacultyIDs))
	}
	if filter.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("s.department_id = $%d", len(args)+1))
		args = append(args, filter.DepartmentID)
	}
	if filter.Search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.first_name || ' ' || s.last_name) LIKE $%d OR LOWER(s.matricule) LIKE $%d)", idx, idx))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	where := " WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"matricule":  "s.matricule",
		"last_name":  "s.last_name",
		"gpa":        "s.gpa",
		"created_at": "s.created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "s.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s ORDER BY %s %s LIMIT %d OFFSET %d", studentDetailSelect, where, column, order, limit, offset)
	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM students s"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID returns a student with account details.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	var student models.StudentDetail
	if err := r.db.GetContext(ctx, &student, studentDetailSelect+" WHERE s.id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// FindByUserID resolves the student profile owned by a user account.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	var student models.StudentDetail
	if err := r.db.GetContext(ctx, &student, studentDetailSelect+" WHERE s.user_id = $1", userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student by user: %w", err)
	}
	return &student, nil
}

// NextMatriculeSequence atomically increments the per-year matricule counter.
func (r *StudentRepository) NextMatriculeSequence(ctx context.Context, tx *sqlx.Tx, year int) (int, error) {
	const query = `INSERT INTO matricule_sequences (year, last_value) VALUES ($1, 1)
ON CONFLICT (year) DO UPDATE SET last_value = matricule_sequences.last_value + 1
RETURNING last_value`
	var seq int
	if err := sqlx.GetContext(ctx, pick(r.db, tx), &seq, query, year); err != nil {
		return 0, fmt.Errorf("next matricule sequence: %w", err)
	}
	return seq, nil
}

// Create inserts a student row, inside tx when provided.
func (r *StudentRepository) Create(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	if student.Status == "" {
		student.Status = models.StudentStatusActive
	}
	if student.Level == 0 {
		student.Level = 1
	}
	const query = `INSERT INTO students (id, matricule, user_id, first_name, last_name, gender, date_of_birth, phone, address, faculty_id, department_id, major, level, status, gpa, total_credits, created_at, updated_at)
VALUES (:id, :matricule, :user_id, :first_name, :last_name, :gender, :date_of_birth, :phone, :address, :faculty_id, :department_id, :major, :level, :status, :gpa, :total_credits, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, tx), query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update writes mutable profile fields.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET first_name = :first_name, last_name = :last_name, phone = :phone, address = :address,
faculty_id = :faculty_id, department_id = :department_id, major = :major, level = :level, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// SoftDelete flips the status to deleted.
func (r *StudentRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE students SET status = 'deleted', updated_at = $2 WHERE id = $1 AND status <> 'deleted'`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStanding stores the recomputed GPA and earned credits.
func (r *StudentRepository) UpdateStanding(ctx context.Context, tx *sqlx.Tx, id string, gpa float64, credits int) error {
	const query = `UPDATE students SET gpa = $2, total_credits = $3, updated_at = $4 WHERE id = $1`
	if _, err := pick(r.db, tx).ExecContext(ctx, query, id, gpa, credits, time.Now().UTC()); err != nil {
		return fmt.Errorf("update student standing: %w", err)
	}
	return nil
}
