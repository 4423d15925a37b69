package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type complaintRepository interface {
	Create(ctx context.Context, complaint *models.Complaint) error
	FindByID(ctx context.Context, id string) (*models.Complaint, error)
	List(ctx context.Context, filter models.ComplaintFilter) ([]models.Complaint, int, error)
	Respond(ctx context.Context, complaint *models.Complaint) (bool, error)
}

type facultyDirectory interface {
	lookupCoordination
	FindByID(ctx context.Context, id string) (*models.Faculty, error)
}

type enrollmentChecker interface {
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
}

// ComplaintService routes student complaints to the course lecturer and faculty coordinator.
type ComplaintService struct {
	repo        complaintRepository
	courses     courseReader
	students    studentDirectory
	enrollments enrollmentChecker
	faculties   facultyDirectory
	notifier    Notifier
	audit       auditWriter
	policy      *Policy
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewComplaintService constructs ComplaintService.
func NewComplaintService(repo complaintRepository, courses courseReader, students studentDirectory, enrollments enrollmentChecker, faculties facultyDirectory, notifier Notifier, audit auditWriter, policy *Policy, validate *validator.Validate, logger *zap.Logger) *ComplaintService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &ComplaintService{
		repo:        repo,
		courses:     courses,
		students:    students,
		enrollments: enrollments,
		faculties:   faculties,
		notifier:    notifier,
		audit:       audit,
		policy:      policy,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create files a complaint about a course the student is enrolled in.
func (s *ComplaintService) Create(ctx context.Context, actor *models.JWTClaims, req models.CreateComplaintRequest) (*models.Complaint, error) {
	if err := s.policy.Authorize(actor, models.ResourceComplaint, models.ActionCreate, ""); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid complaint payload")
	}
	student, err := ownStudent(ctx, s.students, actor)
	if err != nil {
		return nil, err
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		return nil, lookupError(err, "course not found", "failed to load course")
	}
	enrolled, err := s.enrollments.IsEnrolled(ctx, student.ID, course.ID)
	if err != nil {
		return nil, internalError(err, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only complain about courses you are enrolled in")
	}

	priority := req.Priority
	if priority == "" {
		priority = models.ComplaintPriorityMedium
	}
	complaint := &models.Complaint{
		StudentID:   student.ID,
		CourseID:    course.ID,
		LecturerID:  course.LecturerID,
		Subject:     req.Subject,
		Description: req.Description,
		Category:    req.Category,
		Priority:    priority,
		Status:      models.ComplaintStatusPending,
	}
	if err := s.repo.Create(ctx, complaint); err != nil {
		return nil, internalError(err, "failed to create complaint")
	}

	recipients := s.staffRecipients(ctx, course)
	s.notify(ctx, recipients, models.NotificationMessage{
		SenderID: userIDPtr(actor),
		Title:    "New complaint: " + complaint.Subject,
		Message:  fmt.Sprintf("%s %s (%s) raised a %s complaint about %s.", student.FirstName, student.LastName, student.Matricule, complaint.Category, course.Code),
		Type:     models.NotificationTypeWarning,
		Category: models.NotificationCategoryComplaint,
		Priority: notificationPriority(priority),
		Metadata: map[string]any{"complaint_id": complaint.ID, "course_id": course.ID},
	})
	return complaint, nil
}

// Get returns one complaint to its student, its lecturer, the faculty coordinator or an admin.
func (s *ComplaintService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Complaint, error) {
	complaint, course, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.owner(ctx, actor, complaint, course)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, models.ResourceComplaint, models.ActionRead, owner); err != nil {
		return nil, err
	}
	return complaint, nil
}

// List returns complaints visible to the caller.
func (s *ComplaintService) List(ctx context.Context, actor *models.JWTClaims, filter models.ComplaintFilter) ([]models.Complaint, *models.Pagination, error) {
	scope, err := narrowList(ctx, s.policy, s.students, s.faculties, actor, models.ResourceComplaint)
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
		return nil, nil, internalError(err, "failed to list complaints")
	}
	return items, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Respond moves an open complaint forward. Final complaints accept no further responses.
func (s *ComplaintService) Respond(ctx context.Context, actor *models.JWTClaims, id string, req models.RespondComplaintRequest) (*models.Complaint, error) {
	complaint, course, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.owner(ctx, actor, complaint, course)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, models.ResourceComplaint, models.ActionRespond, owner); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid complaint response")
	}
	if complaint.Status.Final() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "complaint is already "+string(complaint.Status))
	}

	response := req.Response
	complaint.Status = req.Status
	complaint.Response = &response
	complaint.RespondedBy = userIDPtr(actor)
	if req.Status.Final() {
		now := s.now()
		complaint.ResolvedAt = &now
	}
	updated, err := s.repo.Respond(ctx, complaint)
	if err != nil {
		return nil, internalError(err, "failed to store complaint response")
	}
	if !updated {
		return nil, appErrors.Clone(appErrors.ErrConflict, "complaint was closed by another response")
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionComplaint, "complaints", complaint.ID, map[string]any{"status": complaint.Status})

	if student, err := s.students.FindByID(ctx, complaint.StudentID); err != nil {
		s.logger.Warn("complaint response notification skipped", zap.String("complaint_id", complaint.ID), zap.Error(err))
	} else {
		s.notify(ctx, []string{student.UserID}, models.NotificationMessage{
			SenderID: userIDPtr(actor),
			Title:    "Complaint " + string(complaint.Status) + ": " + complaint.Subject,
			Message:  response,
			Type:     models.NotificationTypeInfo,
			Category: models.NotificationCategoryComplaint,
			Metadata: map[string]any{"complaint_id": complaint.ID, "status": complaint.Status},
		})
	}
	return complaint, nil
}

func (s *ComplaintService) load(ctx context.Context, id string) (*models.Complaint, *models.Course, error) {
	complaint, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, lookupError(err, "complaint not found", "failed to load complaint")
	}
	course, err := s.courses.FindByID(ctx, complaint.CourseID)
	if err != nil && !isNoRows(err) {
		return nil, nil, internalError(err, "failed to load course")
	}
	return complaint, course, nil
}

func (s *ComplaintService) owner(ctx context.Context, actor *models.JWTClaims, complaint *models.Complaint, course *models.Course) (string, error) {
	if actor == nil {
		return "", nil
	}
	if actor.Role == models.RoleTeacher && complaint.LecturerID != nil && *complaint.LecturerID == actor.UserID {
		return actor.UserID, nil
	}
	studentUserID := ""
	if actor.Role == models.RoleStudent {
		own, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil && !isNoRows(err) {
			return "", internalError(err, "failed to resolve student profile")
		}
		if own != nil && own.ID == complaint.StudentID {
			studentUserID = actor.UserID
		}
	}
	return courseRecordOwner(ctx, s.faculties, actor, studentUserID, course)
}

// staffRecipients returns the course lecturer and the coordinator of the course faculty.
func (s *ComplaintService) staffRecipients(ctx context.Context, course *models.Course) []string {
	var recipients []string
	if course.LecturerID != nil {
		recipients = append(recipients, *course.LecturerID)
	}
	if course.FacultyID != nil {
		faculty, err := s.faculties.FindByID(ctx, *course.FacultyID)
		switch {
		case err != nil:
			s.logger.Warn("faculty lookup failed for complaint routing", zap.String("faculty_id", *course.FacultyID), zap.Error(err))
		case faculty.CoordinatorID != nil:
			recipients = append(recipients, *faculty.CoordinatorID)
		}
	}
	return recipients
}

func (s *ComplaintService) notify(ctx context.Context, recipients []string, msg models.NotificationMessage) {
	if s.notifier == nil || len(recipients) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, recipients, msg); err != nil {
		s.logger.Warn("complaint notification failed", zap.Error(err))
	}
}

func notificationPriority(p models.ComplaintPriority) models.NotificationPriority {
	switch p {
	case models.ComplaintPriorityLow:
		return models.NotificationPriorityLow
	case models.ComplaintPriorityHigh:
		return models.NotificationPriorityHigh
	case models.ComplaintPriorityUrgent:
		return models.NotificationPriorityUrgent
	default:
		return models.NotificationPriorityNormal
	}
}
