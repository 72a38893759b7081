// Package realtime multiplexes typed topic subscriptions over one
// WebSocket per user.
package realtime

import (
	"fmt"
	"strconv"
	"strings"

	appErr "emc/pkg/errors"
)

// Kind discriminates topic descriptors on the wire.
type Kind string

const (
	KindSystem                     Kind = "system"
	KindSystemAdmin                Kind = "system_admin"
	KindAttendanceSession          Kind = "attendance_session"
	KindTicketChat                 Kind = "ticket_chat"
	KindAssignmentSubmissionsStaff Kind = "assignment_submissions_staff"
	KindAssignmentSubmissionsOwner Kind = "assignment_submissions_owner"
)

// Topic is one typed publication channel. The id fields used depend on
// the kind; unused fields stay zero.
type Topic struct {
	Kind         Kind  `json:"kind"`
	SessionID    int64 `json:"session_id,omitempty"`
	TicketID     int64 `json:"ticket_id,omitempty"`
	AssignmentID int64 `json:"assignment_id,omitempty"`
	UserID       int64 `json:"user_id,omitempty"`
}

// SystemTopic addresses the broadcast stream every authenticated user
// may follow.
func SystemTopic() Topic { return Topic{Kind: KindSystem} }

// StaffSubmissionsTopic addresses the staff aggregate stream of an
// assignment.
func StaffSubmissionsTopic(assignmentID int64) Topic {
	return Topic{Kind: KindAssignmentSubmissionsStaff, AssignmentID: assignmentID}
}

// OwnerSubmissionsTopic addresses one user's own submission stream.
func OwnerSubmissionsTopic(assignmentID, userID int64) Topic {
	return Topic{Kind: KindAssignmentSubmissionsOwner, AssignmentID: assignmentID, UserID: userID}
}

// Validate checks that the descriptor carries the ids its kind needs.
func (t Topic) Validate() error {
	switch t.Kind {
	case KindSystem, KindSystemAdmin:
		return nil
	case KindAttendanceSession:
		if t.SessionID <= 0 {
			return appErr.New(appErr.FrameMalformed).WithDetail("field", "session_id")
		}
	case KindTicketChat:
		if t.TicketID <= 0 {
			return appErr.New(appErr.FrameMalformed).WithDetail("field", "ticket_id")
		}
	case KindAssignmentSubmissionsStaff:
		if t.AssignmentID <= 0 {
			return appErr.New(appErr.FrameMalformed).WithDetail("field", "assignment_id")
		}
	case KindAssignmentSubmissionsOwner:
		if t.AssignmentID <= 0 || t.UserID <= 0 {
			return appErr.New(appErr.FrameMalformed).WithDetail("field", "assignment_id/user_id")
		}
	default:
		return appErr.New(appErr.FrameMalformed).WithDetail("kind", string(t.Kind))
	}
	return nil
}

// Path renders the canonical routing string.
func (t Topic) Path() string {
	switch t.Kind {
	case KindSystem:
		return "system"
	case KindSystemAdmin:
		return "system:admin"
	case KindAttendanceSession:
		return fmt.Sprintf("attendance:session:%d", t.SessionID)
	case KindTicketChat:
		return fmt.Sprintf("ticket:chat:%d", t.TicketID)
	case KindAssignmentSubmissionsStaff:
		return fmt.Sprintf("assignment:%d:submissions:staff", t.AssignmentID)
	case KindAssignmentSubmissionsOwner:
		return fmt.Sprintf("assignment:%d:submissions:owner:%d", t.AssignmentID, t.UserID)
	}
	return ""
}

// ParsePath inverts Path.
func ParsePath(path string) (Topic, error) {
	switch path {
	case "system":
		return Topic{Kind: KindSystem}, nil
	case "system:admin":
		return Topic{Kind: KindSystemAdmin}, nil
	}
	parts := strings.Split(path, ":")
	bad := func() (Topic, error) {
		return Topic{}, appErr.New(appErr.FrameMalformed).WithDetail("path", path)
	}
	id := func(s string) (int64, bool) {
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil && n > 0
	}
	switch {
	case len(parts) == 3 && parts[0] == "attendance" && parts[1] == "session":
		if n, ok := id(parts[2]); ok {
			return Topic{Kind: KindAttendanceSession, SessionID: n}, nil
		}
	case len(parts) == 3 && parts[0] == "ticket" && parts[1] == "chat":
		if n, ok := id(parts[2]); ok {
			return Topic{Kind: KindTicketChat, TicketID: n}, nil
		}
	case len(parts) == 4 && parts[0] == "assignment" && parts[2] == "submissions" && parts[3] == "staff":
		if n, ok := id(parts[1]); ok {
			return Topic{Kind: KindAssignmentSubmissionsStaff, AssignmentID: n}, nil
		}
	case len(parts) == 5 && parts[0] == "assignment" && parts[2] == "submissions" && parts[3] == "owner":
		a, okA := id(parts[1])
		u, okU := id(parts[4])
		if okA && okU {
			return Topic{Kind: KindAssignmentSubmissionsOwner, AssignmentID: a, UserID: u}, nil
		}
	}
	return bad()
}
