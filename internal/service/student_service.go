package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type studentRepository interface {
	studentWriter
	lookupStudent
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	Update(ctx context.Context, student *models.Student) error
	SoftDelete(ctx context.Context, id string) error
}

// StudentService manages student profiles.
type StudentService struct {
	repo      studentRepository
	users     accountWriter
	tx        txProvider
	faculties lookupCoordination
	policy    *Policy
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewStudentService creates a new student service instance.
func NewStudentService(repo studentRepository, users accountWriter, tx txProvider, faculties lookupCoordination, policy *Policy, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &StudentService{
		repo:      repo,
		users:     users,
		tx:        tx,
		faculties: faculties,
		policy:    policy,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns students visible to the caller. Students only ever see themselves and
// coordinators only their faculty, whatever the query asked for.
func (s *StudentService) List(ctx context.Context, actor *models.JWTClaims, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	if !s.policy.CanAny(actor, models.ResourceStudent, models.ActionRead) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "you are not allowed to list students")
	}

	if s.policy.OwnOnly(actor, models.ResourceStudent, models.ActionRead) {
		switch {
		case actor.Role == models.RoleStudent:
			own, err := ownStudent(ctx, s.repo, actor)
			if err != nil {
				return nil, nil, err
			}
			filter.IDs = []string{own.ID}
		case actor.Role.IsCoordinator():
			ids, err := coordinatorFaculties(ctx, s.faculties, actor)
			if err != nil {
				return nil, nil, err
			}
			filter.FacultyIDs = ids
		default:
			return nil, nil, appErrors.ErrForbidden
		}
	}

	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list students")
	}
	return students, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a student by id after the ownership check.
func (s *StudentService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}
	owner, err := s.owner(ctx, actor, student)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, models.ResourceStudent, models.ActionRead, owner); err != nil {
		return nil, err
	}
	return student, nil
}

// Me returns the caller's own student profile.
func (s *StudentService) Me(ctx context.Context, actor *models.JWTClaims) (*models.StudentDetail, error) {
	return ownStudent(ctx, s.repo, actor)
}

// Create provisions the user account and student profile together.
func (s *StudentService) Create(ctx context.Context, actor *models.JWTClaims, req models.CreateStudentRequest) (*models.Student, error) {
	if err := s.policy.Authorize(actor, models.ResourceStudent, models.ActionCreate, ""); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         models.RoleStudent,
		Active:       true,
	}
	student := &models.Student{
		ID:           uuid.NewString(),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Gender:       req.Gender,
		DateOfBirth:  req.DateOfBirth,
		Phone:        req.Phone,
		Address:      req.Address,
		FacultyID:    req.FacultyID,
		DepartmentID: req.DepartmentID,
		Major:        req.Major,
		Level:        req.Level,
	}

	if err := provisionStudent(ctx, s.tx, s.users, s.repo, user, student, s.now()); err != nil {
		return nil, err
	}

	s.logger.Info("student created", zap.String("student_id", student.ID), zap.String("matricule", student.Matricule))
	return student, nil
}

// Update applies a partial update. Students may only change their own contact fields.
func (s *StudentService) Update(ctx context.Context, actor *models.JWTClaims, id string, req models.UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}

	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}

	if !s.policy.Allowed(actor.Role, models.ResourceStudent, models.ActionUpdate) {
		if err := s.policy.Authorize(actor, models.ResourceStudent, models.ActionUpdate, detail.UserID); err != nil {
			return nil, err
		}
		if !req.ContactOnly() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only update phone and address")
		}
	}

	student := detail.Student
	if req.FirstName != nil {
		student.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		student.LastName = *req.LastName
	}
	if req.Phone != nil {
		student.Phone = req.Phone
	}
	if req.Address != nil {
		student.Address = req.Address
	}
	if req.FacultyID != nil {
		student.FacultyID = req.FacultyID
	}
	if req.DepartmentID != nil {
		student.DepartmentID = req.DepartmentID
	}
	if req.Major != nil {
		student.Major = req.Major
	}
	if req.Level != nil {
		student.Level = *req.Level
	}
	if req.Status != nil {
		student.Status = *req.Status
	}

	if err := s.repo.Update(ctx, &student); err != nil {
		return nil, internalError(err, "failed to update student")
	}
	return &student, nil
}

// Delete flips the student status to deleted.
func (s *StudentService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	if err := s.policy.Authorize(actor, models.ResourceStudent, models.ActionDelete, ""); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return lookupError(err, "student not found", "failed to delete student")
	}
	return nil
}

// owner resolves who owns a student record from the caller's point of view: the
// student's own account, or the coordinator of the student's faculty.
func (s *StudentService) owner(ctx context.Context, actor *models.JWTClaims, student *models.StudentDetail) (string, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	if actor.Role.IsCoordinator() {
		ok, err := coordinates(ctx, s.faculties, actor, student.FacultyID)
		if err != nil {
			return "", err
		}
		if ok {
			return actor.UserID, nil
		}
		return "", nil
	}
	return student.UserID, nil
}
