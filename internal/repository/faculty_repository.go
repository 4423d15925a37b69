package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

// FacultyRepository handles faculty and department lookups.
type FacultyRepository struct {
	db *sqlx.DB
}

// NewFacultyRepository creates a new FacultyRepository.
func NewFacultyRepository(db *sqlx.DB) *FacultyRepository {
	return &FacultyRepository{db: db}
}

// List returns every faculty ordered by name.
func (r *FacultyRepository) List(ctx context.Context) ([]models.Faculty, error) {
	query, args, err := psql.Select("id", "code", "name", "coordinator_id", "created_at", "updated_at").
		From("faculties").
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list faculties query: %w", err)
	}
	var faculties []models.Faculty
	if err := r.db.SelectContext(ctx, &faculties, query, args...); err != nil {
		return nil, fmt.Errorf("list faculties: %w", err)
	}
	return faculties, nil
}

// FindByID retrieves a faculty by id.
func (r *FacultyRepository) FindByID(ctx context.Context, id string) (*models.Faculty, error) {
	query, args, err := psql.Select("id", "code", "name", "coordinator_id", "created_at", "updated_at").
		From("faculties").
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find faculty query: %w", err)
	}
	var faculty models.Faculty
	if err := r.db.GetContext(ctx, &faculty, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find faculty: %w", err)
	}
	return &faculty, nil
}

// CoordinatedFacultyIDs returns faculties a coordinator is responsible for, either
// directly or through one of its departments.
func (r *FacultyRepository) CoordinatedFacultyIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT id FROM faculties WHERE coordinator_id = $1
UNION SELECT faculty_id FROM departments WHERE coordinator_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("list coordinated faculties: %w", err)
	}
	return ids, nil
}

// Create inserts a faculty.
func (r *FacultyRepository) Create(ctx context.Context, faculty *models.Faculty) error {
	if faculty.ID == "" {
		faculty.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	faculty.CreatedAt, faculty.UpdatedAt = now, now
	query, args, err := psql.Insert("faculties").
		Columns("id", "code", "name", "coordinator_id", "created_at", "updated_at").
		Values(faculty.ID, faculty.Code, faculty.Name, faculty.CoordinatorID, faculty.CreatedAt, faculty.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create faculty query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create faculty: %w", err)
	}
	return nil
}

// ListDepartments returns departments of a faculty, or all when facultyID is empty.
func (r *FacultyRepository) ListDepartments(ctx context.Context, facultyID string) ([]models.Department, error) {
	builder := psql.Select("id", "faculty_id", "name", "coordinator_id", "created_at").From("departments").OrderBy("name ASC")
	if facultyID != "" {
		builder = builder.Where(sq.Eq{"faculty_id": facultyID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list departments query: %w", err)
	}
	var departments []models.Department
	if err := r.db.SelectContext(ctx, &departments, query, args...); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return departments, nil
}
