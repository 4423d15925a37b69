package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

type fakeAttendance struct {
	lastFilter models.AttendanceFilter
	called     bool
}

func (f *fakeAttendance) Record(ctx context.Context, actor *models.JWTClaims, req models.RecordAttendanceRequest) (*models.Attendance, error) {
	return &models.Attendance{StudentID: req.StudentID, Status: req.Status}, nil
}

func (f *fakeAttendance) BulkRecord(ctx context.Context, actor *models.JWTClaims, req models.BulkAttendanceRequest) ([]models.Attendance, error) {
	return make([]models.Attendance, len(req.Entries)), nil
}

func (f *fakeAttendance) List(ctx context.Context, actor *models.JWTClaims, filter models.AttendanceFilter) ([]models.Attendance, *models.Pagination, error) {
	f.called = true
	f.lastFilter = filter
	return nil, models.NewPagination(1, 20, 0), nil
}

func (f *fakeAttendance) Summary(ctx context.Context, actor *models.JWTClaims, studentID, courseID string) ([]models.AttendanceSummary, error) {
	return nil, nil
}

func TestAttendanceListParsesDates(t *testing.T) {
	svc := &fakeAttendance{}
	h := NewAttendanceHandler(svc)

	c, rec := newContext(http.MethodGet, "/academic/attendance?from=2026-03-01&to=2026-03-31&course_id=c1", student(), nil)
	h.List(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastFilter.DateFrom)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *svc.lastFilter.DateFrom)
	assert.Equal(t, "c1", svc.lastFilter.CourseID)
}

func TestAttendanceListRejectsBadDate(t *testing.T) {
	svc := &fakeAttendance{}
	h := NewAttendanceHandler(svc)

	c, rec := newContext(http.MethodGet, "/academic/attendance?from=01/03/2026", student(), nil)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, svc.called)
}

func TestAttendanceBulkRecord(t *testing.T) {
	h := NewAttendanceHandler(&fakeAttendance{})
	c, rec := newContext(http.MethodPost, "/academic/attendance/bulk", nil, models.BulkAttendanceRequest{
		CourseID: "c1", Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Entries:  []models.AttendanceEntry{{StudentID: "stu-1", Status: models.AttendanceStatusPresent}},
	})
	h.Bulk(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attendance recorded", decode(t, rec).Message)
}
