package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

const courseCachePattern = "courses:*"

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
}

type cachedCoursePage struct {
	Items []models.Course `json:"items"`
	Total int             `json:"total"`
}

// CourseService manages course offerings. Reads are served from Redis when enabled.
type CourseService struct {
	repo      courseRepository
	cache     *CacheService
	ttl       time.Duration
	policy    *Policy
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs the service. cache may be nil.
func NewCourseService(repo courseRepository, cache *CacheService, ttl time.Duration, policy *Policy, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &CourseService{repo: repo, cache: cache, ttl: ttl, policy: policy, validator: validate, logger: logger}
}

// List returns a page of courses, cached per filter.
func (s *CourseService) List(ctx context.Context, actor *models.JWTClaims, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	if err := s.policy.Authorize(actor, models.ResourceCourse, models.ActionRead, ""); err != nil {
		return nil, nil, err
	}
	key := CacheKey("courses", "list", filter.Search, filter.DepartmentID, filter.FacultyID, filter.LecturerID,
		filter.Semester, filter.AcademicYear, string(filter.Status), strconv.Itoa(filter.Page), strconv.Itoa(filter.PageSize))

	var page cachedCoursePage
	if !s.cache.Get(ctx, key, &page) {
		items, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, nil, internalError(err, "failed to list courses")
		}
		page = cachedCoursePage{Items: items, Total: total}
		s.cache.Set(ctx, key, page, s.ttl)
	}
	return page.Items, models.NewPagination(filter.Page, filter.PageSize, page.Total), nil
}

// Get returns one course.
func (s *CourseService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Course, error) {
	if err := s.policy.Authorize(actor, models.ResourceCourse, models.ActionRead, ""); err != nil {
		return nil, err
	}
	key := CacheKey("courses", "id", id)
	var course models.Course
	if s.cache.Get(ctx, key, &course) {
		return &course, nil
	}
	found, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "course not found", "failed to load course")
	}
	s.cache.Set(ctx, key, found, s.ttl)
	return found, nil
}

// Create adds a course. Code is unique per semester and academic year.
func (s *CourseService) Create(ctx context.Context, actor *models.JWTClaims, req models.CourseRequest) (*models.Course, error) {
	if err := s.policy.Authorize(actor, models.ResourceCourse, models.ActionCreate, ""); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	course := &models.Course{Status: models.CourseStatusActive}
	applyCourseRequest(course, req)
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, writeError(err, "course code already exists for this semester", "failed to create course")
	}
	s.cache.Invalidate(ctx, courseCachePattern)
	s.logger.Info("course created", zap.String("course_id", course.ID), zap.String("code", course.Code))
	return course, nil
}

// Update replaces course fields. The course lecturer may edit descriptive fields but
// cannot reassign the course or change its capacity.
func (s *CourseService) Update(ctx context.Context, actor *models.JWTClaims, id string, req models.CourseRequest) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "course not found", "failed to load course")
	}
	if err := s.policy.Authorize(actor, models.ResourceCourse, models.ActionUpdate, deref(course.LecturerID)); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	if s.policy.OwnOnly(actor, models.ResourceCourse, models.ActionUpdate) {
		req.LecturerID = course.LecturerID
		req.MaxEnrollment = course.MaxEnrollment
		req.FacultyID = course.FacultyID
		req.DepartmentID = course.DepartmentID
	}
	if req.MaxEnrollment > 0 && req.MaxEnrollment < course.CurrentEnrollment {
		return nil, appErrors.Clone(appErrors.ErrValidation, "max_enrollment is below the current enrollment")
	}
	applyCourseRequest(course, req)
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, writeError(err, "course code already exists for this semester", "failed to update course")
	}
	s.cache.Invalidate(ctx, courseCachePattern)
	return course, nil
}

// Deactivate withdraws the course from offering. Existing enrollments are kept.
func (s *CourseService) Deactivate(ctx context.Context, actor *models.JWTClaims, id string) error {
	if err := s.policy.Authorize(actor, models.ResourceCourse, models.ActionDelete, ""); err != nil {
		return err
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "course not found", "failed to load course")
	}
	if course.Status == models.CourseStatusInactive {
		return nil
	}
	course.Status = models.CourseStatusInactive
	if err := s.repo.Update(ctx, course); err != nil {
		return internalError(err, "failed to deactivate course")
	}
	s.cache.Invalidate(ctx, courseCachePattern)
	return nil
}

func applyCourseRequest(course *models.Course, req models.CourseRequest) {
	course.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	course.Name = strings.TrimSpace(req.Name)
	course.Description = req.Description
	course.Credits = req.Credits
	course.DepartmentID = req.DepartmentID
	course.FacultyID = req.FacultyID
	course.LecturerID = req.LecturerID
	course.Semester = req.Semester
	course.AcademicYear = req.AcademicYear
	course.MaxEnrollment = req.MaxEnrollment
	prereqs := make([]string, 0, len(req.Prerequisites))
	for _, code := range req.Prerequisites {
		if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
			prereqs = append(prereqs, code)
		}
	}
	course.Prerequisites = prereqs
}
