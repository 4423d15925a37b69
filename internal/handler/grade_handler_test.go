package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/internal/service"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type fakeGrades struct {
	lastFilter  models.GradeFilter
	publishErr  error
	lastStudent string
}

func (f *fakeGrades) List(ctx context.Context, actor *models.JWTClaims, filter models.GradeFilter) ([]models.GradeDetail, *models.Pagination, error) {
	f.lastFilter = filter
	return []models.GradeDetail{}, models.NewPagination(filter.Page, filter.PageSize, 0), nil
}

func (f *fakeGrades) Upsert(ctx context.Context, actor *models.JWTClaims, req models.GradeUpsertRequest) (*models.Grade, error) {
	result := models.ComputeGrade(req.CAMarks, req.ExamMarks)
	grade := &models.Grade{StudentID: req.StudentID, Status: models.GradeStatusDraft}
	grade.Apply(result)
	return grade, nil
}

func (f *fakeGrades) BulkUpsert(ctx context.Context, actor *models.JWTClaims, req models.BulkGradeRequest) ([]models.Grade, error) {
	return nil, nil
}

func (f *fakeGrades) Publish(ctx context.Context, actor *models.JWTClaims, req models.PublishGradesRequest) ([]models.Grade, error) {
	return nil, f.publishErr
}

func (f *fakeGrades) Lock(ctx context.Context, actor *models.JWTClaims, req models.PublishGradesRequest) (int, error) {
	return 2, nil
}

func (f *fakeGrades) Transcript(ctx context.Context, actor *models.JWTClaims, studentID string) (*models.Transcript, error) {
	f.lastStudent = studentID
	return &models.Transcript{GPA: 3.5}, nil
}

type fakeTranscriptExport struct{ format string }

func (f *fakeTranscriptExport) Transcript(ctx context.Context, actor *models.JWTClaims, studentID, format string) (*service.Document, error) {
	f.format = format
	return &service.Document{Filename: "transcript.pdf", ContentType: "application/pdf", Body: []byte("%PDF-1.3")}, nil
}

func TestGradeUpsertReturnsComputedGrade(t *testing.T) {
	h := NewGradeHandler(&fakeGrades{}, &fakeTranscriptExport{})
	c, rec := newContext(http.MethodPost, "/academic/grades", nil, models.GradeUpsertRequest{
		StudentID: "stu-1", CourseID: "c1", Semester: "1", AcademicYear: "2025/2026", CAMarks: 25, ExamMarks: 52,
	})

	h.Upsert(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var grade models.Grade
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &grade))
	assert.Equal(t, "B+", grade.LetterGrade)
	assert.InDelta(t, 77.0, grade.TotalMarks, 0.001)
}

func TestGradeListParsesQuery(t *testing.T) {
	grades := &fakeGrades{}
	h := NewGradeHandler(grades, nil)
	c, rec := newContext(http.MethodGet, "/academic/grades?course_id=c1&status=published&page=2&limit=5", student(), nil)

	h.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", grades.lastFilter.CourseID)
	assert.Equal(t, models.GradeStatusPublished, grades.lastFilter.Status)
	assert.Equal(t, 2, grades.lastFilter.Page)
	assert.Equal(t, 5, grades.lastFilter.PageSize)
}

func TestGradePublishFinalizedConflict(t *testing.T) {
	h := NewGradeHandler(&fakeGrades{publishErr: appErrors.Clone(appErrors.ErrFinalized, "grade already published")}, nil)
	c, rec := newContext(http.MethodPost, "/academic/grades/publish", nil, models.PublishGradesRequest{GradeIDs: []string{"g1"}})

	h.Publish(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, appErrors.ErrFinalized.Code, decode(t, rec).Error["code"])
}

func TestGradeTranscriptJSONOrDownload(t *testing.T) {
	grades := &fakeGrades{}
	exports := &fakeTranscriptExport{}
	h := NewGradeHandler(grades, exports)

	c, rec := newContext(http.MethodGet, "/academic/grades/transcript?student_id=stu-2", nil, nil)
	h.Transcript(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stu-2", grades.lastStudent)
	assert.True(t, decode(t, rec).Success)

	c, rec = newContext(http.MethodGet, "/academic/grades/transcript?format=pdf", nil, nil)
	h.Transcript(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pdf", exports.format)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "transcript.pdf")
}
