package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

func TestTimetableRepositoryListForStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.semester = $1 AND EXISTS (SELECT 1 FROM enrollments e WHERE e.course_id = t.course_id AND e.student_id = $2")).
		WithArgs("1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "day_of_week", "start_time", "end_time", "room", "course_code"}).
			AddRow("t1", "c1", 1, "08:00", "10:00", "A101", "SE301"))

	slots, err := repo.List(context.Background(), models.TimetableFilter{Semester: "1", StudentID: "s1"})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "SE301", slots[0].CourseCode)
}

func TestTimetableRepositoryRoomClash(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM timetables WHERE room = $1")).
		WithArgs("A101", 1, "1", "2025/2026", "09:00", "11:00").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	clash, err := repo.HasRoomClash(context.Background(), &models.Timetable{Room: "A101", DayOfWeek: 1, Semester: "1", AcademicYear: "2025/2026", StartTime: "09:00", EndTime: "11:00"})
	require.NoError(t, err)
	assert.True(t, clash)
}
