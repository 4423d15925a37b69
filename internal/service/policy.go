package service

import (
	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type permissionKey struct {
	role     models.UserRole
	resource models.Resource
	action   models.Action
}

// Policy answers {role, resource, action} questions from a static permission table.
type Policy struct {
	table map[permissionKey]struct{}
}

// NewPolicy builds a policy from explicit permission rows.
func NewPolicy(permissions []models.Permission) *Policy {
	table := make(map[permissionKey]struct{}, len(permissions))
	for _, p := range permissions {
		table[permissionKey{p.Role, p.Resource, p.Action}] = struct{}{}
	}
	return &Policy{table: table}
}

// DefaultPolicy returns the institution's permission table.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultPermissions())
}

// Allowed reports whether the exact row exists.
func (p *Policy) Allowed(role models.UserRole, resource models.Resource, action models.Action) bool {
	if p == nil {
		return false
	}
	_, ok := p.table[permissionKey{role, resource, action}]
	return ok
}

// Can checks the exact action first, then the _own variant against ownerID.
func (p *Policy) Can(actor *models.JWTClaims, resource models.Resource, action models.Action, ownerID string) bool {
	if actor == nil {
		return false
	}
	if p.Allowed(actor.Role, resource, action) {
		return true
	}
	return ownerID != "" && ownerID == actor.UserID && p.Allowed(actor.Role, resource, action.Own())
}

// CanAny reports whether the role holds the action in either form. List endpoints use
// it before narrowing the filter to the caller's own rows.
func (p *Policy) CanAny(actor *models.JWTClaims, resource models.Resource, action models.Action) bool {
	if actor == nil {
		return false
	}
	return p.Allowed(actor.Role, resource, action) || p.Allowed(actor.Role, resource, action.Own())
}

// OwnOnly reports whether the role is limited to its own rows for the action.
func (p *Policy) OwnOnly(actor *models.JWTClaims, resource models.Resource, action models.Action) bool {
	return actor != nil && !p.Allowed(actor.Role, resource, action) && p.Allowed(actor.Role, resource, action.Own())
}

// Authorize returns FORBIDDEN unless Can allows the call.
func (p *Policy) Authorize(actor *models.JWTClaims, resource models.Resource, action models.Action, ownerID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !p.Can(actor, resource, action, ownerID) {
		return appErrors.Clone(appErrors.ErrForbidden, "you are not allowed to "+string(action)+" this "+string(resource))
	}
	return nil
}

func grant(role models.UserRole, resource models.Resource, actions ...models.Action) []models.Permission {
	rows := make([]models.Permission, 0, len(actions))
	for _, action := range actions {
		rows = append(rows, models.Permission{Role: role, Resource: resource, Action: action})
	}
	return rows
}

// DefaultPermissions lists every granted row. Anything absent is denied.
func DefaultPermissions() []models.Permission {
	var rows []models.Permission
	add := func(p []models.Permission) { rows = append(rows, p...) }

	all := []models.Action{
		models.ActionCreate, models.ActionRead, models.ActionUpdate, models.ActionDelete,
		models.ActionPublish, models.ActionLock, models.ActionPay, models.ActionWaive,
		models.ActionRespond, models.ActionSend,
	}
	for _, resource := range []models.Resource{
		models.ResourceUser, models.ResourceStudent, models.ResourceCourse, models.ResourceEnrollment,
		models.ResourceGrade, models.ResourceAttendance, models.ResourceFinance,
		models.ResourceNotification, models.ResourceComplaint, models.ResourceTimetable,
	} {
		add(grant(models.RoleAdmin, resource, all...))
	}

	own := func(a models.Action) models.Action { return a.Own() }

	// students act on their own records
	add(grant(models.RoleStudent, models.ResourceStudent, own(models.ActionRead), own(models.ActionUpdate)))
	add(grant(models.RoleStudent, models.ResourceCourse, models.ActionRead))
	add(grant(models.RoleStudent, models.ResourceTimetable, models.ActionRead))
	add(grant(models.RoleStudent, models.ResourceEnrollment, own(models.ActionCreate), own(models.ActionRead), own(models.ActionDelete)))
	add(grant(models.RoleStudent, models.ResourceGrade, own(models.ActionRead)))
	add(grant(models.RoleStudent, models.ResourceAttendance, own(models.ActionRead)))
	add(grant(models.RoleStudent, models.ResourceFinance, own(models.ActionRead)))
	add(grant(models.RoleStudent, models.ResourceComplaint, models.ActionCreate, own(models.ActionRead)))
	add(grant(models.RoleStudent, models.ResourceNotification, own(models.ActionRead), own(models.ActionUpdate), own(models.ActionDelete)))

	// lecturers own their courses and the grades and attendance recorded for them
	add(grant(models.RoleTeacher, models.ResourceStudent, models.ActionRead))
	add(grant(models.RoleTeacher, models.ResourceCourse, models.ActionRead, own(models.ActionUpdate)))
	add(grant(models.RoleTeacher, models.ResourceTimetable, models.ActionRead))
	add(grant(models.RoleTeacher, models.ResourceEnrollment, own(models.ActionRead)))
	add(grant(models.RoleTeacher, models.ResourceGrade, own(models.ActionCreate), own(models.ActionUpdate), own(models.ActionPublish), own(models.ActionRead)))
	add(grant(models.RoleTeacher, models.ResourceAttendance, own(models.ActionCreate), own(models.ActionRead)))
	add(grant(models.RoleTeacher, models.ResourceComplaint, own(models.ActionRead), own(models.ActionRespond)))
	add(grant(models.RoleTeacher, models.ResourceNotification, own(models.ActionRead), own(models.ActionUpdate), own(models.ActionDelete)))

	// coordinators own the faculty they coordinate
	for _, role := range []models.UserRole{models.RoleFacultyCoordinator, models.RoleMajorCoordinator} {
		add(grant(role, models.ResourceStudent, own(models.ActionRead)))
		add(grant(role, models.ResourceCourse, models.ActionRead))
		add(grant(role, models.ResourceTimetable, models.ActionRead))
		add(grant(role, models.ResourceEnrollment, own(models.ActionRead)))
		add(grant(role, models.ResourceGrade, own(models.ActionRead)))
		add(grant(role, models.ResourceAttendance, own(models.ActionRead)))
		add(grant(role, models.ResourceComplaint, own(models.ActionRead), own(models.ActionRespond)))
		add(grant(role, models.ResourceNotification, models.ActionSend, own(models.ActionRead), own(models.ActionUpdate), own(models.ActionDelete)))
	}

	add(grant(models.RoleFinanceStaff, models.ResourceStudent, models.ActionRead))
	add(grant(models.RoleFinanceStaff, models.ResourceFinance, models.ActionCreate, models.ActionRead, models.ActionPay, models.ActionWaive))
	add(grant(models.RoleFinanceStaff, models.ResourceNotification, models.ActionSend))

	add(grant(models.RoleHRStaff, models.ResourceUser, models.ActionRead))
	add(grant(models.RoleHRStaff, models.ResourceStudent, models.ActionRead))
	add(grant(models.RoleHRStaff, models.ResourceNotification, models.ActionSend))

	add(grant(models.RoleMarketingStaff, models.ResourceCourse, models.ActionRead))
	add(grant(models.RoleMarketingStaff, models.ResourceNotification, models.ActionSend))

	add(grant(models.RoleEmployee, models.ResourceCourse, models.ActionRead))
	add(grant(models.RoleEmployee, models.ResourceTimetable, models.ActionRead))

	// every account reads and manages its own inbox
	for _, role := range []models.UserRole{models.RoleFinanceStaff, models.RoleHRStaff, models.RoleMarketingStaff, models.RoleEmployee} {
		add(grant(role, models.ResourceNotification, own(models.ActionRead), own(models.ActionUpdate), own(models.ActionDelete)))
	}

	return rows
}
