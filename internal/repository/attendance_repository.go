package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

const attendanceColumns = `a.id, a.student_id, a.course_id, a.date, a.status, a.remarks, a.recorded_by, a.created_at, a.updated_at`

// AttendanceRepository persists course attendance.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// BeginTxx starts a transaction on the underlying pool.
func (r *AttendanceRepository) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, opts)
}

// Upsert inserts or updates the record for (student, course, date).
func (r *AttendanceRepository) Upsert(ctx context.Context, tx *sqlx.Tx, record *models.Attendance) (*models.Attendance, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO attendance (id, student_id, course_id, date, status, remarks, recorded_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (student_id, course_id, date)
DO UPDATE SET status = EXCLUDED.status, remarks = EXCLUDED.remarks, recorded_by = EXCLUDED.recorded_by, updated_at = EXCLUDED.updated_at
RETURNING id, student_id, course_id, date, status, remarks, recorded_by, created_at, updated_at`
	var stored models.Attendance
	if err := sqlx.GetContext(ctx, pick(r.db, tx), &stored, query, record.ID, record.StudentID, record.CourseID, record.Date,
		record.Status, record.Remarks, record.RecordedBy, record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}
	return &stored, nil
}

// List returns attendance rows matching filter.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error) {
	var conditions []string
	var args []interface{}
	add := func(cond string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.StudentID != "" {
		add("a.student_id = $%d", filter.StudentID)
	}
	if filter.CourseID != "" {
		add("a.course_id = $%d", filter.CourseID)
	}
	if filter.LecturerID != "" {
		add("c.lecturer_id = $%d", filter.LecturerID)
	}
	if filter.FacultyID != "" {
		add("c.faculty_id = $%d", filter.FacultyID)
	}
	if len(filter.FacultyIDs) > 0 {
		add("c.faculty_id = ANY($%d)", pq.Array(filter.FacultyIDs))
	}
	if filter.Status != "" {
		add("a.status = $%d", filter.Status)
	}
	if filter.DateFrom != nil {
		add("a.date >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("a.date <= $%d", *filter.DateTo)
	}

	from := " FROM attendance a JOIN courses c ON c.id = a.course_id"
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s%s%s ORDER BY a.date DESC LIMIT %d OFFSET %d", attendanceColumns, from, where, limit, offset)

	var rows []models.Attendance
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+from+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return rows, total, nil
}

// Summary aggregates a student's attendance per course.
func (r *AttendanceRepository) Summary(ctx context.Context, studentID, courseID string) ([]models.AttendanceSummary, error) {
	query := `SELECT student_id, course_id,
        COUNT(*) FILTER (WHERE status = 'present') AS present,
        COUNT(*) FILTER (WHERE status = 'absent') AS absent,
        COUNT(*) FILTER (WHERE status = 'late') AS late,
        COUNT(*) FILTER (WHERE status = 'excused') AS excused,
        COUNT(*) AS total
        FROM attendance WHERE student_id = $1`
	args := []interface{}{studentID}
	if courseID != "" {
		query += ` AND course_id = $2`
		args = append(args, courseID)
	}
	query += ` GROUP BY student_id, course_id ORDER BY course_id`
	var rows []models.AttendanceSummary
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("attendance summary: %w", err)
	}
	for i := range rows {
		rows[i].ComputeRate()
	}
	return rows, nil
}
