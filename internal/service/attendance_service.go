package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type attendanceRepository interface {
	txProvider
	Upsert(ctx context.Context, tx *sqlx.Tx, record *models.Attendance) (*models.Attendance, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error)
	Summary(ctx context.Context, studentID, courseID string) ([]models.AttendanceSummary, error)
}

// AttendanceService records course session attendance.
type AttendanceService struct {
	repo        attendanceRepository
	courses     courseReader
	students    studentDirectory
	enrollments enrollmentChecker
	faculties   lookupCoordination
	policy      *Policy
	validator   *validator.Validate
	logger      *zap.Logger
	metrics     *MetricsService
}

// NewAttendanceService constructs AttendanceService.
func NewAttendanceService(repo attendanceRepository, courses courseReader, students studentDirectory, enrollments enrollmentChecker, faculties lookupCoordination, policy *Policy, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &AttendanceService{repo: repo, courses: courses, students: students, enrollments: enrollments, faculties: faculties,
		policy: policy, validator: validate, logger: logger, metrics: metrics}
}

// Record stores one student's status for a session, replacing any earlier mark that day.
func (s *AttendanceService) Record(ctx context.Context, actor *models.JWTClaims, req models.RecordAttendanceRequest) (*models.Attendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	if _, err := s.authorize(ctx, actor, req.CourseID); err != nil {
		return nil, err
	}
	if err := s.checkEnrolled(ctx, req.CourseID, []models.AttendanceEntry{req.AttendanceEntry}); err != nil {
		return nil, err
	}
	record, err := s.repo.Upsert(ctx, nil, s.entry(actor, req.CourseID, req.Date, req.AttendanceEntry))
	if err != nil {
		return nil, internalError(err, "failed to record attendance")
	}
	return record, nil
}

// BulkRecord stores a whole session in one transaction.
func (s *AttendanceService) BulkRecord(ctx context.Context, actor *models.JWTClaims, req models.BulkAttendanceRequest) (records []models.Attendance, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	if _, err := s.authorize(ctx, actor, req.CourseID); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(req.Entries))
	for _, entry := range req.Entries {
		if _, dup := seen[entry.StudentID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student "+entry.StudentID+" appears twice in the session")
		}
		seen[entry.StudentID] = struct{}{}
	}
	if err := s.checkEnrolled(ctx, req.CourseID, req.Entries); err != nil {
		return nil, err
	}

	start := time.Now()
	tx, err := s.repo.BeginTxx(ctx, nil)
	if err != nil {
		return nil, internalError(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	records = make([]models.Attendance, 0, len(req.Entries))
	for _, entry := range req.Entries {
		stored, uerr := s.repo.Upsert(ctx, tx, s.entry(actor, req.CourseID, req.Date, entry))
		if uerr != nil {
			err = internalError(uerr, "failed to record attendance")
			return nil, err
		}
		records = append(records, *stored)
	}
	if err = tx.Commit(); err != nil {
		return nil, internalError(err, "failed to commit attendance")
	}
	s.metrics.ObserveTransaction("attendance_bulk", time.Since(start))
	s.logger.Info("attendance session recorded", zap.String("course_id", req.CourseID), zap.Int("entries", len(records)))
	return records, nil
}

// List returns attendance rows visible to the caller.
func (s *AttendanceService) List(ctx context.Context, actor *models.JWTClaims, filter models.AttendanceFilter) ([]models.Attendance, *models.Pagination, error) {
	scope, err := narrowList(ctx, s.policy, s.students, s.faculties, actor, models.ResourceAttendance)
	if err != nil {
		return nil, nil, err
	}
	if scope.StudentID != "" {
		filter.StudentID = scope.StudentID
	}
	if scope.LecturerID != "" {
		filter.LecturerID = scope.LecturerID
	}
	if len(scope.FacultyIDs) > 0 {
		filter.FacultyIDs = scope.FacultyIDs
	}
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list attendance")
	}
	return rows, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Summary aggregates a student's attendance per course. An empty studentID means the caller.
func (s *AttendanceService) Summary(ctx context.Context, actor *models.JWTClaims, studentID, courseID string) ([]models.AttendanceSummary, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	var student *models.StudentDetail
	var err error
	if studentID == "" || actor.Role == models.RoleStudent {
		student, err = ownStudent(ctx, s.students, actor)
		if err == nil && studentID != "" && studentID != student.ID {
			err = appErrors.Clone(appErrors.ErrForbidden, "you may only read your own attendance")
		}
	} else if student, err = s.students.FindByID(ctx, studentID); err != nil {
		err = lookupError(err, "student not found", "failed to load student")
	}
	if err != nil {
		return nil, err
	}

	var course *models.Course
	if courseID != "" {
		if course, err = s.courses.FindByID(ctx, courseID); err != nil {
			return nil, lookupError(err, "course not found", "failed to load course")
		}
	}
	owner, err := courseRecordOwner(ctx, s.faculties, actor, student.UserID, course)
	if err != nil {
		return nil, err
	}
	if owner == "" && actor.Role.IsCoordinator() {
		ok, cerr := coordinates(ctx, s.faculties, actor, student.FacultyID)
		if cerr != nil {
			return nil, cerr
		}
		if ok {
			owner = actor.UserID
		}
	}
	if err := s.policy.Authorize(actor, models.ResourceAttendance, models.ActionRead, owner); err != nil {
		return nil, err
	}
	rows, err := s.repo.Summary(ctx, student.ID, courseID)
	if err != nil {
		return nil, internalError(err, "failed to summarise attendance")
	}
	return rows, nil
}

func (s *AttendanceService) authorize(ctx context.Context, actor *models.JWTClaims, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, lookupError(err, "course not found", "failed to load course")
	}
	owner := ""
	if actor != nil && course.TaughtBy(actor.UserID) {
		owner = actor.UserID
	}
	if err := s.policy.Authorize(actor, models.ResourceAttendance, models.ActionCreate, owner); err != nil {
		return nil, err
	}
	return course, nil
}

func (s *AttendanceService) checkEnrolled(ctx context.Context, courseID string, entries []models.AttendanceEntry) error {
	for _, entry := range entries {
		ok, err := s.enrollments.IsEnrolled(ctx, entry.StudentID, courseID)
		if err != nil {
			return internalError(err, "failed to check enrollment")
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, "student "+entry.StudentID+" is not enrolled in this course")
		}
	}
	return nil
}

func (s *AttendanceService) entry(actor *models.JWTClaims, courseID string, date time.Time, entry models.AttendanceEntry) *models.Attendance {
	day := date.UTC().Truncate(24 * time.Hour)
	return &models.Attendance{
		StudentID:  entry.StudentID,
		CourseID:   courseID,
		Date:       day,
		Status:     entry.Status,
		Remarks:    entry.Remarks,
		RecordedBy: userIDPtr(actor),
	}
}
