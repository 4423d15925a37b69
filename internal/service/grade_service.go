package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type gradeRepository interface {
	txProvider
	FindByID(ctx context.Context, id string) (*models.Grade, error)
	FindForOffering(ctx context.Context, tx *sqlx.Tx, studentID, courseID, semester, year string) (*models.Grade, error)
	Insert(ctx context.Context, tx *sqlx.Tx, grade *models.Grade) error
	UpdateMarks(ctx context.Context, tx *sqlx.Tx, grade *models.Grade) error
	List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, int, error)
	LockByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.Grade, error)
	LockOffering(ctx context.Context, tx *sqlx.Tx, courseID, semester, year string) ([]models.Grade, error)
	SetStatus(ctx context.Context, tx *sqlx.Tx, ids []string, status models.GradeStatus, actorID string, at time.Time) error
	Finalised(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.GradeDetail, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type standingWriter interface {
	UpdateStanding(ctx context.Context, tx *sqlx.Tx, id string, gpa float64, credits int) error
}

type enrollmentCompleter interface {
	FindForOffering(ctx context.Context, tx *sqlx.Tx, studentID, courseID, semester, year string) (*models.Enrollment, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, status models.EnrollmentStatus, finalGrade *string, credits int) error
}

// GradeService runs the draft -> published -> locked grading workflow.
type GradeService struct {
	repo        gradeRepository
	courses     courseReader
	students    studentDirectory
	standing    standingWriter
	enrollments enrollmentCompleter
	faculties   lookupCoordination
	notifier    Notifier
	audit       auditWriter
	policy      *Policy
	validator   *validator.Validate
	logger      *zap.Logger
	metrics     *MetricsService
	now         func() time.Time
}

// GradeServiceDeps groups the collaborators of GradeService.
type GradeServiceDeps struct {
	Grades      gradeRepository
	Courses     courseReader
	Students    studentDirectory
	Standing    standingWriter
	Enrollments enrollmentCompleter
	Faculties   lookupCoordination
	Notifier    Notifier
	Audit       auditWriter
	Policy      *Policy
	Validator   *validator.Validate
	Logger      *zap.Logger
	Metrics     *MetricsService
}

// NewGradeService constructs GradeService.
func NewGradeService(deps GradeServiceDeps) *GradeService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Policy == nil {
		deps.Policy = DefaultPolicy()
	}
	return &GradeService{
		repo:        deps.Grades,
		courses:     deps.Courses,
		students:    deps.Students,
		standing:    deps.Standing,
		enrollments: deps.Enrollments,
		faculties:   deps.Faculties,
		notifier:    deps.Notifier,
		audit:       deps.Audit,
		policy:      deps.Policy,
		validator:   deps.Validator,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// List returns grades visible to the caller. A student asking for another student's
// grades is refused rather than silently narrowed.
func (s *GradeService) List(ctx context.Context, actor *models.JWTClaims, filter models.GradeFilter) ([]models.GradeDetail, *models.Pagination, error) {
	scope, err := narrowList(ctx, s.policy, s.students, s.faculties, actor, models.ResourceGrade)
	if err != nil {
		return nil, nil, err
	}
	if scope.StudentID != "" {
		if filter.StudentID != "" && filter.StudentID != scope.StudentID {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "you may only read your own grades")
		}
		filter.StudentID = scope.StudentID
		if filter.Status == "" || filter.Status == models.GradeStatusDraft {
			filter.Status = models.GradeStatusPublished
		}
	}
	if scope.LecturerID != "" {
		filter.LecturerID = scope.LecturerID
	}
	if len(scope.FacultyIDs) > 0 {
		filter.FacultyIDs = scope.FacultyIDs
	}
	grades, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list grades")
	}
	return grades, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Upsert writes marks for one student. Published grades can only be reopened by an
// admin with the reopen flag; locked grades never change.
func (s *GradeService) Upsert(ctx context.Context, actor *models.JWTClaims, req models.GradeUpsertRequest) (grade *models.Grade, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid grade payload")
	}
	course, err := s.authorizeCourse(ctx, actor, req.CourseID, models.ActionCreate)
	if err != nil {
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
	grade, err = s.write(ctx, tx, actor, course, req, actor.Role == models.RoleAdmin && req.Reopen)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, internalError(err, "failed to commit grade")
	}
	s.metrics.ObserveTransaction("grade_upsert", time.Since(start))
	return grade, nil
}

// BulkUpsert writes every grade in one transaction. A single non-draft row aborts the batch.
func (s *GradeService) BulkUpsert(ctx context.Context, actor *models.JWTClaims, req models.BulkGradeRequest) (grades []models.Grade, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid bulk grade payload")
	}
	courses := make(map[string]*models.Course)
	for _, item := range req.Grades {
		if _, seen := courses[item.CourseID]; seen {
			continue
		}
		course, err := s.authorizeCourse(ctx, actor, item.CourseID, models.ActionCreate)
		if err != nil {
			return nil, err
		}
		courses[item.CourseID] = course
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
	grades = make([]models.Grade, 0, len(req.Grades))
	for _, item := range req.Grades {
		grade, werr := s.write(ctx, tx, actor, courses[item.CourseID], item, false)
		if werr != nil {
			err = werr
			return nil, err
		}
		grades = append(grades, *grade)
	}
	if err = tx.Commit(); err != nil {
		return nil, internalError(err, "failed to commit grades")
	}
	s.metrics.ObserveTransaction("grade_bulk_upsert", time.Since(start))
	return grades, nil
}

// Publish moves draft grades to published, recomputes each student's standing,
// completes the matching enrollments and notifies the students.
func (s *GradeService) Publish(ctx context.Context, actor *models.JWTClaims, req models.PublishGradesRequest) (published []models.Grade, err error) {
	if len(req.GradeIDs) == 0 && !req.ByOffering() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "provide grade_ids or course_id, semester and academic_year")
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

	selected, err := s.lockSelection(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	courses, err := s.authorizeGrades(ctx, actor, selected, models.ActionPublish)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, g := range selected {
		switch {
		case g.Status == models.GradeStatusDraft:
			ids = append(ids, g.ID)
			published = append(published, g)
		case len(req.GradeIDs) > 0:
			return nil, appErrors.Clone(appErrors.ErrFinalized, "grade "+g.ID+" is already "+string(g.Status))
		}
	}
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, "no draft grades to publish")
	}

	now := s.now()
	if err = s.repo.SetStatus(ctx, tx, ids, models.GradeStatusPublished, actor.UserID, now); err != nil {
		return nil, internalError(err, "failed to publish grades")
	}

	recipients := make(map[string]string)
	for idx := range published {
		g := &published[idx]
		g.Status = models.GradeStatusPublished
		g.PublishedBy = userIDPtr(actor)
		g.PublishedAt = &now
		if err = s.completeEnrollment(ctx, tx, g, courses[g.CourseID]); err != nil {
			return nil, err
		}
		if _, done := recipients[g.StudentID]; done {
			continue
		}
		if err = s.refreshStanding(ctx, tx, g.StudentID); err != nil {
			return nil, err
		}
		student, lerr := s.students.FindByID(ctx, g.StudentID)
		if lerr != nil {
			err = lookupError(lerr, "student not found", "failed to load student")
			return nil, err
		}
		recipients[g.StudentID] = student.UserID
	}

	if err = tx.Commit(); err != nil {
		return nil, internalError(err, "failed to commit publication")
	}
	s.metrics.ObserveTransaction("grade_publish", time.Since(start))
	s.metrics.RecordGradesPublished(len(published))
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionGradePublish, "grades", "", map[string]any{"grade_ids": ids})
	s.notifyPublished(ctx, actor, published, courses, recipients)
	return published, nil
}

// Lock freezes published grades. Drafts must be published first.
func (s *GradeService) Lock(ctx context.Context, actor *models.JWTClaims, req models.PublishGradesRequest) (locked int, err error) {
	if err := s.policy.Authorize(actor, models.ResourceGrade, models.ActionLock, ""); err != nil {
		return 0, err
	}
	if len(req.GradeIDs) == 0 && !req.ByOffering() {
		return 0, appErrors.Clone(appErrors.ErrValidation, "provide grade_ids or course_id, semester and academic_year")
	}
	tx, err := s.repo.BeginTxx(ctx, nil)
	if err != nil {
		return 0, internalError(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	selected, err := s.lockSelection(ctx, tx, req)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, g := range selected {
		switch g.Status {
		case models.GradeStatusPublished:
			ids = append(ids, g.ID)
		case models.GradeStatusDraft:
			return 0, appErrors.Clone(appErrors.ErrValidation, "grade "+g.ID+" must be published before it is locked")
		}
	}
	if len(ids) > 0 {
		if err = s.repo.SetStatus(ctx, tx, ids, models.GradeStatusLocked, actor.UserID, s.now()); err != nil {
			return 0, internalError(err, "failed to lock grades")
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, internalError(err, "failed to commit grade lock")
	}
	return len(ids), nil
}

// Transcript returns the finalised grades and GPA of a student. An empty studentID means
// the caller's own profile.
func (s *GradeService) Transcript(ctx context.Context, actor *models.JWTClaims, studentID string) (*models.Transcript, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	var student *models.StudentDetail
	var err error
	if studentID == "" || actor.Role == models.RoleStudent {
		student, err = ownStudent(ctx, s.students, actor)
		if err == nil && studentID != "" && studentID != student.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you may only read your own transcript")
		}
	} else {
		student, err = s.students.FindByID(ctx, studentID)
		if err != nil {
			err = lookupError(err, "student not found", "failed to load student")
		}
	}
	if err != nil {
		return nil, err
	}

	owner := ""
	if actor.UserID == student.UserID {
		owner = actor.UserID
	} else if ok, cerr := coordinates(ctx, s.faculties, actor, student.FacultyID); cerr != nil {
		return nil, cerr
	} else if ok {
		owner = actor.UserID
	}
	if err := s.policy.Authorize(actor, models.ResourceGrade, models.ActionRead, owner); err != nil {
		return nil, err
	}

	grades, err := s.repo.Finalised(ctx, nil, student.ID)
	if err != nil {
		return nil, internalError(err, "failed to load transcript grades")
	}
	gpa, credits := models.WeightedGPA(grades)
	return &models.Transcript{Student: *student, Grades: grades, GPA: gpa, TotalCredits: credits, GeneratedAt: s.now()}, nil
}

func (s *GradeService) write(ctx context.Context, tx *sqlx.Tx, actor *models.JWTClaims, course *models.Course, req models.GradeUpsertRequest, reopen bool) (*models.Grade, error) {
	if !models.ValidMarks(req.CAMarks, req.ExamMarks) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("marks must be within 0-%.0f (CA) and 0-%.0f (exam)", models.MaxCAMarks, models.MaxExamMarks))
	}
	if course.Semester != req.Semester || course.AcademicYear != req.AcademicYear {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course "+course.Code+" is not offered in that semester")
	}
	enrollment, err := s.enrollments.FindForOffering(ctx, tx, req.StudentID, req.CourseID, req.Semester, req.AcademicYear)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student "+req.StudentID+" is not enrolled in "+course.Code)
		}
		return nil, internalError(err, "failed to check enrollment")
	}
	if enrollment.Status == models.EnrollmentStatusWithdrawn {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student "+req.StudentID+" withdrew from "+course.Code)
	}

	result := models.ComputeGrade(req.CAMarks, req.ExamMarks)
	existing, err := s.repo.FindForOffering(ctx, tx, req.StudentID, req.CourseID, req.Semester, req.AcademicYear)
	if err != nil && !isNoRows(err) {
		return nil, internalError(err, "failed to load grade")
	}
	if existing == nil {
		grade := &models.Grade{
			StudentID:    req.StudentID,
			CourseID:     req.CourseID,
			Semester:     req.Semester,
			AcademicYear: req.AcademicYear,
			CAMarks:      req.CAMarks,
			ExamMarks:    req.ExamMarks,
			Status:       models.GradeStatusDraft,
			Remarks:      req.Remarks,
			GradedBy:     userIDPtr(actor),
		}
		grade.Apply(result)
		if err := s.repo.Insert(ctx, tx, grade); err != nil {
			return nil, writeError(err, "grade already exists for this offering", "failed to store grade")
		}
		return grade, nil
	}

	reopened := false
	switch existing.Status {
	case models.GradeStatusLocked:
		return nil, appErrors.Clone(appErrors.ErrFinalized, "grade for student "+req.StudentID+" is locked")
	case models.GradeStatusPublished:
		if !reopen {
			return nil, appErrors.Clone(appErrors.ErrFinalized, "grade for student "+req.StudentID+" is published")
		}
		existing.Status = models.GradeStatusDraft
		existing.PublishedBy = nil
		existing.PublishedAt = nil
		reopened = true
		s.logger.Info("grade reopened", zap.String("grade_id", existing.ID), zap.String("by", actor.UserID))
	}
	existing.CAMarks = req.CAMarks
	existing.ExamMarks = req.ExamMarks
	existing.Remarks = req.Remarks
	existing.GradedBy = userIDPtr(actor)
	existing.Apply(result)
	if err := s.repo.UpdateMarks(ctx, tx, existing); err != nil {
		return nil, internalError(err, "failed to update grade")
	}
	if reopened {
		// the reopened grade no longer counts toward the enrollment or the GPA
		if enrollment.Status == models.EnrollmentStatusCompleted || enrollment.Status == models.EnrollmentStatusFailed {
			if err := s.enrollments.UpdateStatus(ctx, tx, enrollment.ID, models.EnrollmentStatusEnrolled, nil, 0); err != nil {
				return nil, internalError(err, "failed to reopen enrollment")
			}
		}
		if err := s.refreshStanding(ctx, tx, existing.StudentID); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// authorizeCourse loads the course and checks action, owned by its lecturer.
func (s *GradeService) authorizeCourse(ctx context.Context, actor *models.JWTClaims, courseID string, action models.Action) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, lookupError(err, "course not found", "failed to load course")
	}
	owner := ""
	if actor != nil && course.TaughtBy(actor.UserID) {
		owner = actor.UserID
	}
	if err := s.policy.Authorize(actor, models.ResourceGrade, action, owner); err != nil {
		return nil, err
	}
	return course, nil
}

func (s *GradeService) authorizeGrades(ctx context.Context, actor *models.JWTClaims, grades []models.Grade, action models.Action) (map[string]*models.Course, error) {
	courses := make(map[string]*models.Course)
	for _, g := range grades {
		if _, ok := courses[g.CourseID]; ok {
			continue
		}
		course, err := s.authorizeCourse(ctx, actor, g.CourseID, action)
		if err != nil {
			return nil, err
		}
		courses[g.CourseID] = course
	}
	return courses, nil
}

func (s *GradeService) lockSelection(ctx context.Context, tx *sqlx.Tx, req models.PublishGradesRequest) ([]models.Grade, error) {
	var grades []models.Grade
	var err error
	if len(req.GradeIDs) > 0 {
		grades, err = s.repo.LockByIDs(ctx, tx, req.GradeIDs)
	} else {
		grades, err = s.repo.LockOffering(ctx, tx, req.CourseID, req.Semester, req.AcademicYear)
	}
	if err != nil {
		return nil, internalError(err, "failed to load grades")
	}
	if len(grades) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no grades matched the selection")
	}
	if len(req.GradeIDs) > 0 && len(grades) != len(uniqueStrings(req.GradeIDs)) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "some grades were not found")
	}
	return grades, nil
}

func (s *GradeService) refreshStanding(ctx context.Context, tx *sqlx.Tx, studentID string) error {
	finalised, err := s.repo.Finalised(ctx, tx, studentID)
	if err != nil {
		return internalError(err, "failed to load finalised grades")
	}
	gpa, credits := models.WeightedGPA(finalised)
	if err := s.standing.UpdateStanding(ctx, tx, studentID, gpa, credits); err != nil {
		return internalError(err, "failed to update student standing")
	}
	return nil
}

func (s *GradeService) completeEnrollment(ctx context.Context, tx *sqlx.Tx, g *models.Grade, course *models.Course) error {
	enrollment, err := s.enrollments.FindForOffering(ctx, tx, g.StudentID, g.CourseID, g.Semester, g.AcademicYear)
	if err != nil {
		if isNoRows(err) {
			return nil
		}
		return internalError(err, "failed to load enrollment")
	}
	if enrollment.Status == models.EnrollmentStatusWithdrawn {
		return nil
	}
	status, credits := models.EnrollmentStatusCompleted, 0
	if course != nil {
		credits = course.Credits
	}
	if g.LetterGrade == "F" {
		status, credits = models.EnrollmentStatusFailed, 0
	}
	letter := g.LetterGrade
	if err := s.enrollments.UpdateStatus(ctx, tx, enrollment.ID, status, &letter, credits); err != nil {
		return internalError(err, "failed to complete enrollment")
	}
	return nil
}

func (s *GradeService) notifyPublished(ctx context.Context, actor *models.JWTClaims, grades []models.Grade, courses map[string]*models.Course, recipients map[string]string) {
	if s.notifier == nil {
		return
	}
	for _, g := range grades {
		userID := recipients[g.StudentID]
		if userID == "" {
			continue
		}
		code := g.CourseID
		if course := courses[g.CourseID]; course != nil {
			code = course.Code
		}
		msg := models.NotificationMessage{
			SenderID: userIDPtr(actor),
			Title:    "Grade published",
			Message:  fmt.Sprintf("Your grade for %s (%s, semester %s) is %s.", code, g.AcademicYear, g.Semester, g.LetterGrade),
			Type:     models.NotificationTypeSuccess,
			Category: models.NotificationCategoryAcademic,
			Metadata: map[string]any{"grade_id": g.ID, "course_id": g.CourseID},
		}
		if err := s.notifier.Notify(ctx, []string{userID}, msg); err != nil {
			s.logger.Warn("grade notification failed", zap.String("grade_id", g.ID), zap.Error(err))
		}
	}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
