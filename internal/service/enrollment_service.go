package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type enrollmentRepository interface {
	txProvider
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindForOffering(ctx context.Context, tx *sqlx.Tx, studentID, courseID, semester, year string) (*models.Enrollment, error)
	CompletedCourseCodes(ctx context.Context, tx *sqlx.Tx, studentID string) ([]string, error)
	Create(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, status models.EnrollmentStatus, finalGrade *string, credits int) error
}

type courseLocker interface {
	LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error)
	AdjustEnrollment(ctx context.Context, tx *sqlx.Tx, id string, delta int) error
}

type studentDirectory interface {
	lookupStudent
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

// EnrollmentService registers students on course offerings and keeps seat counts in step.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   courseLocker
	students  studentDirectory
	faculties lookupCoordination
	policy    *Policy
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses courseLocker, students studentDirectory, faculties lookupCoordination, policy *Policy, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &EnrollmentService{repo: repo, courses: courses, students: students, faculties: faculties, policy: policy, validator: validate, logger: logger}
}

// List returns enrollments visible to the caller.
func (s *EnrollmentService) List(ctx context.Context, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	scope, err := narrowList(ctx, s.policy, s.students, s.faculties, actor, models.ResourceEnrollment)
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
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list enrollments")
	}
	return items, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Enroll registers a student on a course offering. Students enroll themselves; admins
// name the student. The seat count moves in the same transaction as the insert.
func (s *EnrollmentService) Enroll(ctx context.Context, actor *models.JWTClaims, req models.EnrollRequest) (enrollment *models.Enrollment, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}
	student, err := s.resolveStudent(ctx, actor, req.StudentID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, models.ResourceEnrollment, models.ActionCreate, student.UserID); err != nil {
		return nil, err
	}
	if student.Status != models.StudentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not active")
	}

	tx, err := s.repo.BeginTxx(ctx, nil)
	if err != nil {
		return nil, internalError(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	course, err := s.courses.LockByID(ctx, tx, req.CourseID)
	if err != nil {
		return nil, lookupError(err, "course not found", "failed to load course")
	}
	if course.Status != models.CourseStatusActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course is not open for enrollment")
	}

	existing, err := s.repo.FindForOffering(ctx, tx, student.ID, course.ID, course.Semester, course.AcademicYear)
	if err != nil && !isNoRows(err) {
		return nil, internalError(err, "failed to check enrollment")
	}
	if existing != nil && existing.Status != models.EnrollmentStatusWithdrawn {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in this course")
	}
	if !course.HasCapacity() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course is full")
	}
	if missing, err := s.missingPrerequisites(ctx, tx, student.ID, course); err != nil {
		return nil, err
	} else if len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "missing prerequisites: "+strings.Join(missing, ", "))
	}

	if existing != nil {
		if err = s.repo.UpdateStatus(ctx, tx, existing.ID, models.EnrollmentStatusEnrolled, nil, 0); err != nil {
			return nil, internalError(err, "failed to re-enroll student")
		}
		existing.Status = models.EnrollmentStatusEnrolled
		existing.FinalGrade = nil
		existing.CreditsEarned = 0
		enrollment = existing
	} else {
		enrollment = &models.Enrollment{
			StudentID:    student.ID,
			CourseID:     course.ID,
			Semester:     course.Semester,
			AcademicYear: course.AcademicYear,
			Status:       models.EnrollmentStatusEnrolled,
		}
		if err = s.repo.Create(ctx, tx, enrollment); err != nil {
			return nil, writeError(err, "student is already enrolled in this course", "failed to create enrollment")
		}
	}
	if err = s.courses.AdjustEnrollment(ctx, tx, course.ID, 1); err != nil {
		return nil, internalError(err, "failed to update course capacity")
	}
	if err = tx.Commit(); err != nil {
		return nil, internalError(err, "failed to commit enrollment")
	}
	s.logger.Info("student enrolled", zap.String("student_id", student.ID), zap.String("course_id", course.ID))
	return enrollment, nil
}

// Withdraw releases the seat of an active enrollment.
func (s *EnrollmentService) Withdraw(ctx context.Context, actor *models.JWTClaims, id string) (err error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "enrollment not found", "failed to load enrollment")
	}
	student, err := s.students.FindByID(ctx, enrollment.StudentID)
	if err != nil {
		return lookupError(err, "student not found", "failed to load student")
	}
	if err := s.policy.Authorize(actor, models.ResourceEnrollment, models.ActionDelete, student.UserID); err != nil {
		return err
	}
	if !enrollment.Status.Counts() {
		return appErrors.Clone(appErrors.ErrConflict, "enrollment is no longer active")
	}

	tx, err := s.repo.BeginTxx(ctx, nil)
	if err != nil {
		return internalError(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = s.courses.LockByID(ctx, tx, enrollment.CourseID); err != nil {
		return lookupError(err, "course not found", "failed to load course")
	}
	if err = s.repo.UpdateStatus(ctx, tx, enrollment.ID, models.EnrollmentStatusWithdrawn, nil, 0); err != nil {
		return internalError(err, "failed to withdraw enrollment")
	}
	if err = s.courses.AdjustEnrollment(ctx, tx, enrollment.CourseID, -1); err != nil {
		return internalError(err, "failed to update course capacity")
	}
	if err = tx.Commit(); err != nil {
		return internalError(err, "failed to commit withdrawal")
	}
	return nil
}

func (s *EnrollmentService) resolveStudent(ctx context.Context, actor *models.JWTClaims, studentID string) (*models.StudentDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleStudent || studentID == "" {
		return ownStudent(ctx, s.students, actor)
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}
	return student, nil
}

func (s *EnrollmentService) missingPrerequisites(ctx context.Context, tx *sqlx.Tx, studentID string, course *models.Course) ([]string, error) {
	if len(course.Prerequisites) == 0 {
		return nil, nil
	}
	completed, err := s.repo.CompletedCourseCodes(ctx, tx, studentID)
	if err != nil {
		return nil, internalError(err, "failed to check prerequisites")
	}
	done := make(map[string]struct{}, len(completed))
	for _, code := range completed {
		done[strings.ToUpper(code)] = struct{}{}
	}
	var missing []string
	for _, code := range course.Prerequisites {
		if _, ok := done[strings.ToUpper(code)]; !ok {
			missing = append(missing, code)
		}
	}
	return missing, nil
}
