package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/internal/repository"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// lookupStudent resolves the student profile that belongs to a user account.
type lookupStudent interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error)
}

// lookupCoordination resolves the faculties a coordinator is responsible for.
type lookupCoordination interface {
	CoordinatedFacultyIDs(ctx context.Context, userID string) ([]string, error)
}

func validationError(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func internalError(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// lookupError maps sql.ErrNoRows to NOT_FOUND and anything else to INTERNAL_ERROR.
func lookupError(err error, notFound, internal string) *appErrors.Error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return internalError(err, internal)
}

// writeError maps unique violations to CONFLICT.
func writeError(err error, conflict, internal string) *appErrors.Error {
	if repository.IsUniqueViolation(err) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, conflict)
	}
	return internalError(err, internal)
}

func userIDPtr(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

// ownStudent returns the caller's student profile or FORBIDDEN when none exists.
func ownStudent(ctx context.Context, students lookupStudent, actor *models.JWTClaims) (*models.StudentDetail, error) {
	student, err := students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile linked to this account")
		}
		return nil, internalError(err, "failed to resolve student profile")
	}
	return student, nil
}

// coordinates reports whether the coordinator manages facultyID.
func coordinates(ctx context.Context, faculties lookupCoordination, actor *models.JWTClaims, facultyID *string) (bool, error) {
	if faculties == nil || facultyID == nil || !actor.Role.IsCoordinator() {
		return false, nil
	}
	ids, err := faculties.CoordinatedFacultyIDs(ctx, actor.UserID)
	if err != nil {
		return false, internalError(err, "failed to resolve coordinator scope")
	}
	for _, id := range ids {
		if id == *facultyID {
			return true, nil
		}
	}
	return false, nil
}

// coordinatorFaculties returns every faculty a coordinator manages, used to narrow lists.
func coordinatorFaculties(ctx context.Context, faculties lookupCoordination, actor *models.JWTClaims) ([]string, error) {
	ids, err := faculties.CoordinatedFacultyIDs(ctx, actor.UserID)
	if err != nil {
		return nil, internalError(err, "failed to resolve coordinator scope")
	}
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "coordinator has no assigned faculty")
	}
	return ids, nil
}

func actorID(actor *models.JWTClaims) string {
	if actor == nil {
		return ""
	}
	return actor.UserID
}

// listScope holds the filter fields an own-only caller is pinned to.
type listScope struct {
	StudentID  string
	LecturerID string
	FacultyIDs []string
}

// narrowList resolves the rows an actor may list for resource. Callers with the plain
// read action get an empty scope. Own-only callers are pinned: students to their profile,
// teachers to the courses they teach, coordinators to their faculty.
func narrowList(ctx context.Context, policy *Policy, students lookupStudent, faculties lookupCoordination, actor *models.JWTClaims, resource models.Resource) (listScope, error) {
	if actor == nil {
		return listScope{}, appErrors.ErrUnauthorized
	}
	if !policy.CanAny(actor, resource, models.ActionRead) {
		return listScope{}, appErrors.Clone(appErrors.ErrForbidden, "you are not allowed to read this "+string(resource))
	}
	if !policy.OwnOnly(actor, resource, models.ActionRead) {
		return listScope{}, nil
	}
	switch {
	case actor.Role == models.RoleStudent:
		own, err := ownStudent(ctx, students, actor)
		if err != nil {
			return listScope{}, err
		}
		return listScope{StudentID: own.ID}, nil
	case actor.Role == models.RoleTeacher:
		return listScope{LecturerID: actor.UserID}, nil
	case actor.Role.IsCoordinator():
		ids, err := coordinatorFaculties(ctx, faculties, actor)
		if err != nil {
			return listScope{}, err
		}
		return listScope{FacultyIDs: ids}, nil
	}
	return listScope{}, appErrors.Clone(appErrors.ErrForbidden, "you are not allowed to read this "+string(resource))
}

// courseRecordOwner returns actor.UserID when the actor owns a student record tied to
// course: the student themself, the course lecturer or a coordinator of its faculty.
// Otherwise it returns "" so only the plain action can authorise.
func courseRecordOwner(ctx context.Context, faculties lookupCoordination, actor *models.JWTClaims, studentUserID string, course *models.Course) (string, error) {
	if actor == nil {
		return "", nil
	}
	switch {
	case actor.Role == models.RoleStudent && actor.UserID == studentUserID:
		return actor.UserID, nil
	case actor.Role == models.RoleTeacher && course != nil && course.TaughtBy(actor.UserID):
		return actor.UserID, nil
	case actor.Role.IsCoordinator() && course != nil:
		ok, err := coordinates(ctx, faculties, actor, course.FacultyID)
		if err != nil || !ok {
			return "", err
		}
		return actor.UserID, nil
	}
	return "", nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// recordAudit writes an audit row for a committed change. Failures are logged only.
func recordAudit(ctx context.Context, w auditWriter, logger *zap.Logger, actor *models.JWTClaims, action, resource, resourceID string, values any) {
	if w == nil {
		return
	}
	var raw []byte
	if values != nil {
		raw, _ = json.Marshal(values)
	}
	entry := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   resource,
		ResourceID: strPtr(resourceID),
		NewValues:  raw,
	}
	if err := w.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource", resource), zap.Error(err))
	}
}
