package realtime

import "context"

// Denial reason codes surfaced in subscribe_ok.rejected.
const (
	ReasonAdminOnly           = "admin_only"
	ReasonNotModuleStaff      = "not_module_staff"
	ReasonNotAllowedForTicket = "not_allowed_for_ticket"
	ReasonNotOwner            = "not_owner"
	ReasonAssignmentNotFound  = "assignment_not_found"
	ReasonSessionNotFound     = "session_not_found"
	ReasonTicketNotFound      = "ticket_not_found"
	ReasonBadTopic            = "bad_topic"
)

// Staff role sets checked against module enrollment.
var (
	staffRoles           = []string{"Lecturer", "AssistantLecturer"}
	staffRolesWithTutors = []string{"Lecturer", "AssistantLecturer", "Tutor"}
)

// Identity is the authenticated principal behind one connection.
type Identity struct {
	UserID int64
	Admin  bool
}

// RoleDirectory answers the lookups authorization needs. Every method
// must fail closed: an error means the caller denies.
type RoleDirectory interface {
	ModuleForSession(ctx context.Context, sessionID int64) (int64, error)
	ModuleForAssignment(ctx context.Context, assignmentID int64) (int64, error)
	AssignmentExists(ctx context.Context, assignmentID int64) (bool, error)
	// TicketOwnerAndModule returns the ticket author and hosting module.
	TicketOwnerAndModule(ctx context.Context, ticketID int64) (ownerID, moduleID int64, err error)
	HasAnyRole(ctx context.Context, userID, moduleID int64, roles []string) (bool, error)
}

// Decision is the outcome of one topic authorization.
type Decision struct {
	Allowed bool
	Reason  string
}

func allowed() Decision              { return Decision{Allowed: true} }
func denied(reason string) Decision { return Decision{Reason: reason} }

// Authorizer gates topic subscriptions.
type Authorizer struct {
	dir RoleDirectory
}

// NewAuthorizer creates an authorizer over the directory.
func NewAuthorizer(dir RoleDirectory) *Authorizer {
	return &Authorizer{dir: dir}
}

// Authorize decides one subscription. Lookup failures deny rather than
// allow.
func (a *Authorizer) Authorize(ctx context.Context, id Identity, t Topic) Decision {
	if err := t.Validate(); err != nil {
		return denied(ReasonBadTopic)
	}
	switch t.Kind {
	case KindSystem:
		return allowed()

	case KindSystemAdmin:
		if id.Admin {
			return allowed()
		}
		return denied(ReasonAdminOnly)

	case KindAttendanceSession:
		moduleID, err := a.dir.ModuleForSession(ctx, t.SessionID)
		if err != nil {
			return denied(ReasonSessionNotFound)
		}
		if id.Admin {
			return allowed()
		}
		return a.requireRole(ctx, id, moduleID, staffRoles, ReasonNotModuleStaff)

	case KindTicketChat:
		ownerID, moduleID, err := a.dir.TicketOwnerAndModule(ctx, t.TicketID)
		if err != nil {
			return denied(ReasonTicketNotFound)
		}
		if id.Admin || id.UserID == ownerID {
			return allowed()
		}
		return a.requireRole(ctx, id, moduleID, staffRolesWithTutors, ReasonNotAllowedForTicket)

	case KindAssignmentSubmissionsStaff:
		moduleID, err := a.dir.ModuleForAssignment(ctx, t.AssignmentID)
		if err != nil {
			return denied(ReasonAssignmentNotFound)
		}
		if id.Admin {
			return allowed()
		}
		return a.requireRole(ctx, id, moduleID, staffRolesWithTutors, ReasonNotModuleStaff)

	case KindAssignmentSubmissionsOwner:
		// strictly the owner; admins and staff are excluded
		exists, err := a.dir.AssignmentExists(ctx, t.AssignmentID)
		if err != nil || !exists {
			return denied(ReasonAssignmentNotFound)
		}
		if id.UserID == t.UserID {
			return allowed()
		}
		return denied(ReasonNotOwner)
	}
	return denied(ReasonBadTopic)
}

func (a *Authorizer) requireRole(ctx context.Context, id Identity, moduleID int64, roles []string, reason string) Decision {
	ok, err := a.dir.HasAnyRole(ctx, id.UserID, moduleID, roles)
	if err != nil || !ok {
		return denied(reason)
	}
	return allowed()
}
