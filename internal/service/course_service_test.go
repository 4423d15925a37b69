package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type mockCourseRepo struct {
	courses   map[string]*models.Course
	listCalls int
	createErr error
}

func newMockCourseRepo(courses ...*models.Course) *mockCourseRepo {
	m := &mockCourseRepo{courses: map[string]*models.Course{}}
	for _, c := range courses {
		m.courses[c.ID] = c
	}
	return m
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	m.listCalls++
	var out []models.Course
	for _, c := range m.courses {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *c
	return &clone, nil
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if m.createErr != nil {
		return m.createErr
	}
	course.ID = "course-new"
	m.courses[course.ID] = course
	return nil
}

func (m *mockCourseRepo) Update(ctx context.Context, course *models.Course) error {
	m.courses[course.ID] = course
	return nil
}

func sampleCourse() *models.Course {
	return &models.Course{
		ID: "c1", Code: "CS101", Name: "Intro", Credits: 3, LecturerID: ptr("lect-1"),
		Semester: "1", AcademicYear: "2025/2026", MaxEnrollment: 40, CurrentEnrollment: 10,
		Status: models.CourseStatusActive,
	}
}

func courseRequest() models.CourseRequest {
	return models.CourseRequest{
		Code: " cs101 ", Name: "Intro to Computing", Credits: 3, Semester: "1",
		AcademicYear: "2025/2026", MaxEnrollment: 50, Prerequisites: []string{" ma100", ""},
	}
}

func TestCourseListIsCached(t *testing.T) {
	repo := newMockCourseRepo(sampleCourse())
	cache := NewCacheService(newMemoryCache(), nil, 0, nil, true)
	svc := NewCourseService(repo, cache, 0, nil, nil, nil)
	ctx := context.Background()
	student := claims("s1", models.RoleStudent)

	items, page, err := svc.List(ctx, student, models.CourseFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, page.TotalCount)

	_, _, err = svc.List(ctx, student, models.CourseFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)

	_, err = svc.Create(ctx, claims("admin", models.RoleAdmin), courseRequest())
	require.NoError(t, err)
	items, _, err = svc.List(ctx, student, models.CourseFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
	assert.Len(t, items, 2)
}

func TestCourseCreateNormalisesAndMapsConflict(t *testing.T) {
	repo := newMockCourseRepo()
	svc := NewCourseService(repo, nil, 0, nil, nil, nil)
	admin := claims("admin", models.RoleAdmin)

	course, err := svc.Create(context.Background(), admin, courseRequest())
	require.NoError(t, err)
	assert.Equal(t, "CS101", course.Code)
	assert.Equal(t, pq.StringArray{"MA100"}, course.Prerequisites)

	repo.createErr = &pq.Error{Code: "23505"}
	_, err = svc.Create(context.Background(), admin, courseRequest())
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	_, err = svc.Create(context.Background(), claims("t1", models.RoleTeacher), courseRequest())
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestCourseUpdateByLecturerKeepsAssignment(t *testing.T) {
	repo := newMockCourseRepo(sampleCourse())
	svc := NewCourseService(repo, nil, 0, nil, nil, nil)
	req := courseRequest()
	req.LecturerID = ptr("lect-2")
	req.MaxEnrollment = 500

	_, err := svc.Update(context.Background(), claims("lect-9", models.RoleTeacher), "c1", req)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	course, err := svc.Update(context.Background(), claims("lect-1", models.RoleTeacher), "c1", req)
	require.NoError(t, err)
	assert.Equal(t, "lect-1", *course.LecturerID)
	assert.Equal(t, 40, course.MaxEnrollment)
	assert.Equal(t, "Intro to Computing", course.Name)
}

func TestCourseUpdateRejectsCapacityBelowEnrollment(t *testing.T) {
	repo := newMockCourseRepo(sampleCourse())
	svc := NewCourseService(repo, nil, 0, nil, nil, nil)
	req := courseRequest()
	req.MaxEnrollment = 5

	_, err := svc.Update(context.Background(), claims("admin", models.RoleAdmin), "c1", req)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestCourseDeactivate(t *testing.T) {
	repo := newMockCourseRepo(sampleCourse())
	svc := NewCourseService(repo, nil, 0, nil, nil, nil)

	require.NoError(t, svc.Deactivate(context.Background(), claims("admin", models.RoleAdmin), "c1"))
	assert.Equal(t, models.CourseStatusInactive, repo.courses["c1"].Status)

	err := svc.Deactivate(context.Background(), claims("admin", models.RoleAdmin), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
