package models

// Resource names a protected entity in the permission table.
type Resource string

const (
	ResourceUser         Resource = "user"
	ResourceStudent      Resource = "student"
	ResourceCourse       Resource = "course"
	ResourceEnrollment   Resource = "enrollment"
	ResourceGrade        Resource = "grade"
	ResourceAttendance   Resource = "attendance"
	ResourceFinance      Resource = "finance"
	ResourceNotification Resource = "notification"
	ResourceComplaint    Resource = "complaint"
	ResourceTimetable    Resource = "timetable"
)

// Action names an operation on a resource. A trailing OwnSuffix restricts it to owners.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionPublish Action = "publish"
	ActionLock    Action = "lock"
	ActionPay     Action = "pay"
	ActionWaive   Action = "waive"
	ActionRespond Action = "respond"
	ActionSend    Action = "send"
)

// OwnSuffix marks an action granted only on records owned by the actor.
const OwnSuffix = "_own"

// Own returns the ownership-restricted variant of the action.
func (a Action) Own() Action {
	return a + OwnSuffix
}

// Permission is one row of the role permission table.
type Permission struct {
	Role     UserRole `json:"role"`
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}
