package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

const slotLayout = "15:04"

type timetableRepository interface {
	List(ctx context.Context, filter models.TimetableFilter) ([]models.Timetable, error)
	HasRoomClash(ctx context.Context, slot *models.Timetable) (bool, error)
	Create(ctx context.Context, slot *models.Timetable) error
	Delete(ctx context.Context, id string) error
}

// TimetableService manages weekly course slots.
type TimetableService struct {
	repo      timetableRepository
	courses   courseReader
	students  lookupStudent
	policy    *Policy
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTimetableService constructs TimetableService.
func NewTimetableService(repo timetableRepository, courses courseReader, students lookupStudent, policy *Policy, validate *validator.Validate, logger *zap.Logger) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &TimetableService{repo: repo, courses: courses, students: students, policy: policy, validator: validate, logger: logger}
}

// List returns slots. Students only ever see the courses they are enrolled in.
func (s *TimetableService) List(ctx context.Context, actor *models.JWTClaims, filter models.TimetableFilter) ([]models.Timetable, error) {
	if err := s.policy.Authorize(actor, models.ResourceTimetable, models.ActionRead, ""); err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent {
		student, err := ownStudent(ctx, s.students, actor)
		if err != nil {
			return nil, err
		}
		filter.StudentID = student.ID
	}
	slots, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, internalError(err, "failed to list timetable")
	}
	return slots, nil
}

// Create schedules a slot after checking the room is free.
func (s *TimetableService) Create(ctx context.Context, actor *models.JWTClaims, req models.TimetableRequest) (*models.Timetable, error) {
	if err := s.policy.Authorize(actor, models.ResourceTimetable, models.ActionCreate, ""); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid timetable payload")
	}
	start, serr := time.Parse(slotLayout, req.StartTime)
	end, eerr := time.Parse(slotLayout, req.EndTime)
	if serr != nil || eerr != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time and end_time must use HH:MM")
	}
	if !end.After(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		return nil, lookupError(err, "course not found", "failed to load course")
	}

	slot := &models.Timetable{
		CourseID:     course.ID,
		LecturerID:   req.LecturerID,
		DayOfWeek:    req.DayOfWeek,
		StartTime:    start.Format(slotLayout),
		EndTime:      end.Format(slotLayout),
		Room:         req.Room,
		Semester:     req.Semester,
		AcademicYear: req.AcademicYear,
	}
	if slot.LecturerID == nil {
		slot.LecturerID = course.LecturerID
	}
	clash, err := s.repo.HasRoomClash(ctx, slot)
	if err != nil {
		return nil, internalError(err, "failed to check room availability")
	}
	if clash {
		return nil, appErrors.Clone(appErrors.ErrConflict, "room "+slot.Room+" is already booked for that time")
	}
	if err := s.repo.Create(ctx, slot); err != nil {
		return nil, internalError(err, "failed to create timetable slot")
	}
	slot.CourseCode = course.Code
	slot.CourseName = course.Name
	s.logger.Info("timetable slot created", zap.String("course_id", slot.CourseID), zap.String("room", slot.Room))
	return slot, nil
}

// Delete removes a slot.
func (s *TimetableService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	if err := s.policy.Authorize(actor, models.ResourceTimetable, models.ActionDelete, ""); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return lookupError(err, "timetable slot not found", "failed to delete timetable slot")
	}
	return nil
}
