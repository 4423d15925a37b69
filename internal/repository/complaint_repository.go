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

var complaintColumns = []string{"cp.id", "cp.student_id", "cp.course_id", "cp.lecturer_id", "cp.subject", "cp.description", "cp.category", "cp.priority",
	"cp.status", "cp.response", "cp.responded_by", "cp.resolved_at", "cp.created_at", "cp.updated_at"}

// ComplaintRepository stores student complaints.
type ComplaintRepository struct {
	db *sqlx.DB
}

// NewComplaintRepository constructs a ComplaintRepository.
func NewComplaintRepository(db *sqlx.DB) *ComplaintRepository {
	return &ComplaintRepository{db: db}
}

// Create inserts a complaint.
func (r *ComplaintRepository) Create(ctx context.Context, complaint *models.Complaint) error {
	if complaint.ID == "" {
		complaint.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	complaint.CreatedAt, complaint.UpdatedAt = now, now
	if complaint.Status == "" {
		complaint.Status = models.ComplaintStatusPending
	}
	query, args, err := psql.Insert("complaints").
		Columns("id", "student_id", "course_id", "lecturer_id", "subject", "description", "category", "priority", "status", "created_at", "updated_at").
		Values(complaint.ID, complaint.StudentID, complaint.CourseID, complaint.LecturerID, complaint.Subject, complaint.Description,
			complaint.Category, complaint.Priority, complaint.Status, complaint.CreatedAt, complaint.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create complaint: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create complaint: %w", err)
	}
	return nil
}

// FindByID returns a complaint by id.
func (r *ComplaintRepository) FindByID(ctx context.Context, id string) (*models.Complaint, error) {
	query, args, err := psql.Select(complaintColumns...).From("complaints cp").Where(sq.Eq{"cp.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find complaint: %w", err)
	}
	var complaint models.Complaint
	if err := r.db.GetContext(ctx, &complaint, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find complaint: %w", err)
	}
	return &complaint, nil
}

// List returns complaints matching filter.
func (r *ComplaintRepository) List(ctx context.Context, filter models.ComplaintFilter) ([]models.Complaint, int, error) {
	where := sq.And{}
	if filter.StudentID != "" {
		where = append(where, sq.Eq{"cp.student_id": filter.StudentID})
	}
	if filter.LecturerID != "" {
		where = append(where, sq.Eq{"cp.lecturer_id": filter.LecturerID})
	}
	if filter.CourseID != "" {
		where = append(where, sq.Eq{"cp.course_id": filter.CourseID})
	}
	if filter.FacultyID != "" {
		where = append(where, sq.Eq{"c.faculty_id": filter.FacultyID})
	}
	if len(filter.FacultyIDs) > 0 {
		where = append(where, sq.Eq{"c.faculty_id": filter.FacultyIDs})
	}
	if filter.Status != "" {
		where = append(where, sq.Eq{"cp.status": filter.Status})
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	base := psql.Select(complaintColumns...).From("complaints cp").Join("courses c ON c.id = cp.course_id")
	countBase := psql.Select("COUNT(*)").From("complaints cp").Join("courses c ON c.id = cp.course_id")
	if len(where) > 0 {
		base = base.Where(where)
		countBase = countBase.Where(where)
	}
	query, args, err := base.OrderBy("cp.created_at DESC").Limit(uint64(limit)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list complaints: %w", err)
	}
	var items []models.Complaint
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list complaints: %w", err)
	}
	countQuery, countArgs, err := countBase.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count complaints: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count complaints: %w", err)
	}
	return items, total, nil
}

// Respond stores a response only while the complaint is still open. It returns false
// when the complaint was already final.
func (r *ComplaintRepository) Respond(ctx context.Context, complaint *models.Complaint) (bool, error) {
	complaint.UpdatedAt = time.Now().UTC()
	query, args, err := psql.Update("complaints").
		Set("status", complaint.Status).
		Set("response", complaint.Response).
		Set("responded_by", complaint.RespondedBy).
		Set("resolved_at", complaint.ResolvedAt).
		Set("updated_at", complaint.UpdatedAt).
		Where(sq.Eq{"id": complaint.ID, "status": []string{string(models.ComplaintStatusPending), string(models.ComplaintStatusUnderReview)}}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build respond complaint: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("respond complaint: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}
