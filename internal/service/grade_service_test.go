package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type mockGradeRepo struct {
	*txProviderMock
	grades     map[string]*models.Grade
	credits    map[string]int
	seq        int
	lastFilter models.GradeFilter
}

func (m *mockGradeRepo) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	g, ok := m.grades[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return g, nil
}

func (m *mockGradeRepo) FindForOffering(ctx context.Context, tx *sqlx.Tx, studentID, courseID, semester, year string) (*models.Grade, error) {
	for _, g := range m.grades {
		if g.StudentID == studentID && g.CourseID == courseID && g.Semester == semester && g.AcademicYear == year {
			clone := *g
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockGradeRepo) Insert(ctx context.Context, tx *sqlx.Tx, grade *models.Grade) error {
	m.seq++
	grade.ID = fmt.Sprintf("g-new-%d", m.seq)
	clone := *grade
	m.grades[grade.ID] = &clone
	return nil
}

func (m *mockGradeRepo) UpdateMarks(ctx context.Context, tx *sqlx.Tx, grade *models.Grade) error {
	clone := *grade
	m.grades[grade.ID] = &clone
	return nil
}

func (m *mockGradeRepo) List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, int, error) {
	m.lastFilter = filter
	return nil, 0, nil
}

func (m *mockGradeRepo) LockByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.Grade, error) {
	var out []models.Grade
	for _, id := range ids {
		if g, ok := m.grades[id]; ok {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *mockGradeRepo) LockOffering(ctx context.Context, tx *sqlx.Tx, courseID, semester, year string) ([]models.Grade, error) {
	var out []models.Grade
	for _, g := range m.grades {
		if g.CourseID == courseID && g.Semester == semester && g.AcademicYear == year {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockGradeRepo) SetStatus(ctx context.Context, tx *sqlx.Tx, ids []string, status models.GradeStatus, actorID string, at time.Time) error {
	for _, id := range ids {
		m.grades[id].Status = status
	}
	return nil
}

func (m *mockGradeRepo) Finalised(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.GradeDetail, error) {
	var out []models.GradeDetail
	for _, g := range m.grades {
		if g.StudentID == studentID && g.Status != models.GradeStatusDraft {
			out = append(out, models.GradeDetail{Grade: *g, Credits: m.credits[g.CourseID]})
		}
	}
	return out, nil
}

type standingCall struct {
	gpa     float64
	credits int
}

type mockStanding map[string]standingCall

func (m mockStanding) UpdateStanding(ctx context.Context, tx *sqlx.Tx, id string, gpa float64, credits int) error {
	m[id] = standingCall{gpa: gpa, credits: credits}
	return nil
}

type gradeFixture struct {
	svc         *GradeService
	repo        *mockGradeRepo
	enrollments *mockEnrollmentRepo
	standing    mockStanding
	notifier    *recordingNotifier
	mock        sqlmock.Sqlmock
}

func newGradeFixture(t *testing.T) *gradeFixture {
	txp, mock := newTxProviderMock(t)
	course := sampleCourse()
	course2 := sampleCourse()
	course2.ID, course2.Code, course2.Credits = "c2", "CS102", 4
	repo := &mockGradeRepo{txProviderMock: txp, grades: map[string]*models.Grade{}, credits: map[string]int{"c1": 3, "c2": 4}}
	enrollments := &mockEnrollmentRepo{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", StudentID: "stu-1", CourseID: "c1", Semester: "1", AcademicYear: "2025/2026", Status: models.EnrollmentStatusEnrolled},
		"e2": {ID: "e2", StudentID: "stu-2", CourseID: "c1", Semester: "1", AcademicYear: "2025/2026", Status: models.EnrollmentStatusEnrolled},
		"e3": {ID: "e3", StudentID: "stu-1", CourseID: "c2", Semester: "1", AcademicYear: "2025/2026", Status: models.EnrollmentStatusEnrolled},
	}}
	standing := mockStanding{}
	notifier := &recordingNotifier{}
	svc := NewGradeService(GradeServiceDeps{
		Grades:      repo,
		Courses:     &mockCourseLocker{courses: map[string]*models.Course{"c1": course, "c2": course2}},
		Students:    newStudentDirectory(),
		Standing:    standing,
		Enrollments: enrollments,
		Faculties:   stubCoordination{},
		Notifier:    notifier,
	})
	return &gradeFixture{svc: svc, repo: repo, enrollments: enrollments, standing: standing, notifier: notifier, mock: mock}
}

func gradeReq(studentID, courseID string, ca, exam float64) models.GradeUpsertRequest {
	return models.GradeUpsertRequest{StudentID: studentID, CourseID: courseID, Semester: "1", AcademicYear: "2025/2026", CAMarks: ca, ExamMarks: exam}
}

func TestGradeUpsertComputesAndOwnsCourse(t *testing.T) {
	f := newGradeFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upsert(ctx, claims("lect-9", models.RoleTeacher), gradeReq("stu-1", "c1", 25, 60))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	grade, err := f.svc.Upsert(ctx, claims("lect-1", models.RoleTeacher), gradeReq("stu-1", "c1", 25, 60))
	require.NoError(t, err)
	assert.Equal(t, 85.0, grade.TotalMarks)
	assert.Equal(t, "A", grade.LetterGrade)
	assert.Equal(t, models.GradeStatusDraft, grade.Status)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	grade, err = f.svc.Upsert(ctx, claims("lect-1", models.RoleTeacher), gradeReq("stu-1", "c1", 10, 40))
	require.NoError(t, err)
	assert.Equal(t, "D", grade.LetterGrade)
	assert.Len(t, f.repo.grades, 1)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGradeUpsertRequiresEnrollment(t *testing.T) {
	f := newGradeFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Upsert(context.Background(), claims("admin", models.RoleAdmin), gradeReq("stu-2", "c2", 20, 50))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGradeUpsertPublishedNeedsAdminReopen(t *testing.T) {
	f := newGradeFixture(t)
	f.repo.grades["g1"] = &models.Grade{ID: "g1", StudentID: "stu-1", CourseID: "c1", Semester: "1", AcademicYear: "2025/2026", Status: models.GradeStatusPublished, PublishedBy: ptr("lect-1")}
	ctx := context.Background()

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Upsert(ctx, claims("lect-1", models.RoleTeacher), gradeReq("stu-1", "c1", 20, 50))
	assert.True(t, appErrors.Is(err, appErrors.ErrFinalized))

	req := gradeReq("stu-1", "c1", 20, 50)
	req.Reopen = true
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.Upsert(ctx, claims("lect-1", models.RoleTeacher), req)
	assert.True(t, appErrors.Is(err, appErrors.ErrFinalized), "only admins reopen")

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	grade, err := f.svc.Upsert(ctx, claims("admin", models.RoleAdmin), req)
	require.NoError(t, err)
	assert.Equal(t, models.GradeStatusDraft, grade.Status)
	assert.Nil(t, grade.PublishedBy)

	f.repo.grades["g1"].Status = models.GradeStatusLocked
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.Upsert(ctx, claims("admin", models.RoleAdmin), req)
	assert.True(t, appErrors.Is(err, appErrors.ErrFinalized))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGradeReopenRevertsStandingAndEnrollment(t *testing.T) {
	f := newGradeFixture(t)
	f.repo.grades["g1"] = &models.Grade{ID: "g1", StudentID: "stu-1", CourseID: "c1", Semester: "1", AcademicYear: "2025/2026",
		Status: models.GradeStatusPublished, LetterGrade: "A", GradePoints: 4, PublishedBy: ptr("lect-1")}
	e1 := f.enrollments.enrollments["e1"]
	e1.Status, e1.FinalGrade, e1.CreditsEarned = models.EnrollmentStatusCompleted, ptr("A"), 3
	f.standing["stu-1"] = standingCall{gpa: 4, credits: 3}

	req := gradeReq("stu-1", "c1", 5, 10)
	req.Reopen = true
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	grade, err := f.svc.Upsert(context.Background(), claims("admin", models.RoleAdmin), req)
	require.NoError(t, err)
	assert.Equal(t, models.GradeStatusDraft, grade.Status)
	assert.Equal(t, "F", grade.LetterGrade)

	assert.Equal(t, standingCall{gpa: 0, credits: 0}, f.standing["stu-1"])
	assert.Equal(t, models.EnrollmentStatusEnrolled, e1.Status)
	assert.Nil(t, e1.FinalGrade)
	assert.Zero(t, e1.CreditsEarned)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGradeBulkIsAllOrNothing(t *testing.T) {
	f := newGradeFixture(t)
	f.repo.grades["g2"] = &models.Grade{ID: "g2", StudentID: "stu-2", CourseID: "c1", Semester: "1", AcademicYear: "2025/2026", Status: models.GradeStatusPublished}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.BulkUpsert(context.Background(), claims("lect-1", models.RoleTeacher), models.BulkGradeRequest{Grades: []models.GradeUpsertRequest{
		gradeReq("stu-1", "c1", 20, 50),
		gradeReq("stu-2", "c1", 20, 50),
	}})
	assert.True(t, appErrors.Is(err, appErrors.ErrFinalized))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGradePublishUpdatesStandingEnrollmentAndNotifies(t *testing.T) {
	f := newGradeFixture(t)
	f.repo.grades["g1"] = &models.Grade{ID: "g1", StudentID: "stu-1", CourseID: "c1", Semester: "1", AcademicYear: "2025/2026", Status: models.GradeStatusDraft, LetterGrade: "A", GradePoints: 4}
	f.repo.grades["g2"] = &models.Grade{ID: "g2", StudentID: "stu-2", CourseID: "c1", Semester: "1", AcademicYear: "2025/2026", Status: models.GradeStatusDraft, LetterGrade: "F", GradePoints: 0}
	f.repo.grades["g3"] = &models.Grade{ID: "g3", StudentID: "stu-1", CourseID: "c2", Semester: "1", AcademicYear: "2025/2026", Status: models.GradeStatusPublished, LetterGrade: "B", GradePoints: 3}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	published, err := f.svc.Publish(context.Background(), claims("lect-1", models.RoleTeacher), models.PublishGradesRequest{CourseID: "c1", Semester: "1", AcademicYear: "2025/2026"})
	require.NoError(t, err)
	assert.Len(t, published, 2)

	// 4.0*3 + 3.0*4 over 7 credits
	assert.Equal(t, standingCall{gpa: 3.43, credits: 7}, f.standing["stu-1"])
	assert.Equal(t, models.EnrollmentStatusCompleted, f.enrollments.enrollments["e1"].Status)
	assert.Equal(t, 3, f.enrollments.enrollments["e1"].CreditsEarned)
	assert.Equal(t, models.EnrollmentStatusFailed, f.enrollments.enrollments["e2"].Status)
	assert.Equal(t, 0, f.enrollments.enrollments["e2"].CreditsEarned)

	require.Len(t, f.notifier.calls, 2)
	assert.Equal(t, models.NotificationCategoryAcademic, f.notifier.calls[0].msg.Category)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGradePublishByIDsRejectsFinalised(t *testing.T) {
	f := newGradeFixture(t)
	f.repo.grades["g3"] = &models.Grade{ID: "g3", StudentID: "stu-1", CourseID: "c1", Semester: "1", AcademicYear: "2025/2026", Status: models.GradeStatusLocked}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Publish(context.Background(), claims("admin", models.RoleAdmin), models.PublishGradesRequest{GradeIDs: []string{"g3"}})
	assert.True(t, appErrors.Is(err, appErrors.ErrFinalized))

	_, err = f.svc.Publish(context.Background(), claims("admin", models.RoleAdmin), models.PublishGradesRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGradeLockRequiresAdmin(t *testing.T) {
	f := newGradeFixture(t)
	f.repo.grades["g1"] = &models.Grade{ID: "g1", StudentID: "stu-1", CourseID: "c1", Status: models.GradeStatusPublished}

	_, err := f.svc.Lock(context.Background(), claims("lect-1", models.RoleTeacher), models.PublishGradesRequest{GradeIDs: []string{"g1"}})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	n, err := f.svc.Lock(context.Background(), claims("admin", models.RoleAdmin), models.PublishGradesRequest{GradeIDs: []string{"g1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.GradeStatusLocked, f.repo.grades["g1"].Status)
}

func TestGradeListStudentCannotReadOthers(t *testing.T) {
	f := newGradeFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.List(ctx, claims("user-1", models.RoleStudent), models.GradeFilter{StudentID: "stu-2"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, _, err = f.svc.List(ctx, claims("user-1", models.RoleStudent), models.GradeFilter{})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", f.repo.lastFilter.StudentID)
	assert.Equal(t, models.GradeStatusPublished, f.repo.lastFilter.Status)
}

func TestGradeTranscript(t *testing.T) {
	f := newGradeFixture(t)
	f.repo.grades["g1"] = &models.Grade{ID: "g1", StudentID: "stu-1", CourseID: "c1", Status: models.GradeStatusPublished, GradePoints: 3}
	f.repo.grades["g2"] = &models.Grade{ID: "g2", StudentID: "stu-1", CourseID: "c2", Status: models.GradeStatusDraft, GradePoints: 4}

	transcript, err := f.svc.Transcript(context.Background(), claims("user-1", models.RoleStudent), "")
	require.NoError(t, err)
	assert.Len(t, transcript.Grades, 1)
	assert.Equal(t, 3.0, transcript.GPA)
	assert.Equal(t, 3, transcript.TotalCredits)

	_, err = f.svc.Transcript(context.Background(), claims("user-1", models.RoleStudent), "stu-2")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Transcript(context.Background(), claims("fin", models.RoleFinanceStaff), "stu-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
