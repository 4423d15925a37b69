package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

// TimetableRepository persists weekly course slots.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository constructs a TimetableRepository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

// List returns slots joined with course codes. A student filter limits to enrolled courses.
func (r *TimetableRepository) List(ctx context.Context, filter models.TimetableFilter) ([]models.Timetable, error) {
	var conditions []string
	var args []interface{}
	add := func(cond string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.CourseID != "" {
		add("t.course_id = $%d", filter.CourseID)
	}
	if filter.LecturerID != "" {
		add("t.lecturer_id = $%d", filter.LecturerID)
	}
	if filter.Semester != "" {
		add("t.semester = $%d", filter.Semester)
	}
	if filter.AcademicYear != "" {
		add("t.academic_year = $%d", filter.AcademicYear)
	}
	if filter.DayOfWeek > 0 {
		add("t.day_of_week = $%d", filter.DayOfWeek)
	}
	if filter.StudentID != "" {
		add("EXISTS (SELECT 1 FROM enrollments e WHERE e.course_id = t.course_id AND e.student_id = $%d AND e.status IN ('enrolled', 'in_progress'))", filter.StudentID)
	}
	query := `SELECT t.id, t.course_id, t.lecturer_id, t.day_of_week, t.start_time, t.end_time, t.room, t.semester, t.academic_year, t.created_at,
        c.code AS course_code, c.name AS course_name
        FROM timetables t JOIN courses c ON c.id = t.course_id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY t.day_of_week, t.start_time"

	var slots []models.Timetable
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list timetables: %w", err)
	}
	return slots, nil
}

// HasRoomClash reports whether the room is already booked overlapping the slot.
func (r *TimetableRepository) HasRoomClash(ctx context.Context, slot *models.Timetable) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM timetables WHERE room = $1 AND day_of_week = $2 AND semester = $3 AND academic_year = $4
AND start_time < $6 AND end_time > $5)`
	var clash bool
	if err := r.db.GetContext(ctx, &clash, query, slot.Room, slot.DayOfWeek, slot.Semester, slot.AcademicYear, slot.StartTime, slot.EndTime); err != nil {
		return false, fmt.Errorf("check room clash: %w", err)
	}
	return clash, nil
}

// Create inserts a slot.
func (r *TimetableRepository) Create(ctx context.Context, slot *models.Timetable) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	slot.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO timetables (id, course_id, lecturer_id, day_of_week, start_time, end_time, room, semester, academic_year, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := r.db.ExecContext(ctx, query, slot.ID, slot.CourseID, slot.LecturerID, slot.DayOfWeek, slot.StartTime, slot.EndTime,
		slot.Room, slot.Semester, slot.AcademicYear, slot.CreatedAt); err != nil {
		return fmt.Errorf("create timetable: %w", err)
	}
	return nil
}

// Delete removes a slot.
func (r *TimetableRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM timetables WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete timetable: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
