package realtime

import (
	"context"
	"errors"
	"testing"
)

// fakeDirectory serves a single module (id 10) hosting session 1,
// assignment 7 and ticket 3 owned by user 5.
type fakeDirectory struct {
	staff  map[int64][]string
	broken bool
}

var errDirDown = errors.New("directory unavailable")

func (d *fakeDirectory) ModuleForSession(_ context.Context, sessionID int64) (int64, error) {
	if d.broken {
		return 0, errDirDown
	}
	if sessionID == 1 {
		return 10, nil
	}
	return 0, errors.New("no such session")
}

func (d *fakeDirectory) ModuleForAssignment(_ context.Context, assignmentID int64) (int64, error) {
	if d.broken {
		return 0, errDirDown
	}
	if assignmentID == 7 {
		return 10, nil
	}
	return 0, errors.New("no such assignment")
}

func (d *fakeDirectory) AssignmentExists(_ context.Context, assignmentID int64) (bool, error) {
	if d.broken {
		return false, errDirDown
	}
	return assignmentID == 7, nil
}

func (d *fakeDirectory) TicketOwnerAndModule(_ context.Context, ticketID int64) (int64, int64, error) {
	if d.broken {
		return 0, 0, errDirDown
	}
	if ticketID == 3 {
		return 5, 10, nil
	}
	return 0, 0, errors.New("no such ticket")
}

func (d *fakeDirectory) HasAnyRole(_ context.Context, userID, moduleID int64, roles []string) (bool, error) {
	if d.broken {
		return false, errDirDown
	}
	for _, role := range d.staff[userID] {
		for _, want := range roles {
			if role == want {
				return true, nil
			}
		}
	}
	return false, nil
}

func authFixture() *Authorizer {
	return NewAuthorizer(&fakeDirectory{staff: map[int64][]string{
		20: {"Lecturer"},
		21: {"Tutor"},
	}})
}

func TestAuthorizeTable(t *testing.T) {
	a := authFixture()
	ctx := context.Background()

	student := Identity{UserID: 5}
	lecturer := Identity{UserID: 20}
	tutor := Identity{UserID: 21}
	admin := Identity{UserID: 99, Admin: true}

	cases := []struct {
		name   string
		id     Identity
		topic  Topic
		allow  bool
		reason string
	}{
		{"system open to all", student, SystemTopic(), true, ""},
		{"system admin denied", student, Topic{Kind: KindSystemAdmin}, false, ReasonAdminOnly},
		{"system admin allowed", admin, Topic{Kind: KindSystemAdmin}, true, ""},

		{"attendance lecturer", lecturer, Topic{Kind: KindAttendanceSession, SessionID: 1}, true, ""},
		{"attendance tutor denied", tutor, Topic{Kind: KindAttendanceSession, SessionID: 1}, false, ReasonNotModuleStaff},
		{"attendance admin", admin, Topic{Kind: KindAttendanceSession, SessionID: 1}, true, ""},
		{"attendance unknown session", admin, Topic{Kind: KindAttendanceSession, SessionID: 404}, false, ReasonSessionNotFound},

		{"ticket owner", student, Topic{Kind: KindTicketChat, TicketID: 3}, true, ""},
		{"ticket tutor", tutor, Topic{Kind: KindTicketChat, TicketID: 3}, true, ""},
		{"ticket stranger", Identity{UserID: 77}, Topic{Kind: KindTicketChat, TicketID: 3}, false, ReasonNotAllowedForTicket},
		{"ticket unknown", student, Topic{Kind: KindTicketChat, TicketID: 404}, false, ReasonTicketNotFound},

		{"staff stream lecturer", lecturer, StaffSubmissionsTopic(7), true, ""},
		{"staff stream tutor", tutor, StaffSubmissionsTopic(7), true, ""},
		{"staff stream student", student, StaffSubmissionsTopic(7), false, ReasonNotModuleStaff},
		{"staff stream unknown assignment", admin, StaffSubmissionsTopic(404), false, ReasonAssignmentNotFound},

		{"owner stream owner", student, OwnerSubmissionsTopic(7, 5), true, ""},
		{"owner stream admin excluded", admin, OwnerSubmissionsTopic(7, 5), false, ReasonNotOwner},
		{"owner stream staff excluded", lecturer, OwnerSubmissionsTopic(7, 5), false, ReasonNotOwner},
		{"owner stream unknown assignment", student, OwnerSubmissionsTopic(404, 5), false, ReasonAssignmentNotFound},

		{"malformed topic", admin, Topic{Kind: "mystery"}, false, ReasonBadTopic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := a.Authorize(ctx, tc.id, tc.topic)
			if got.Allowed != tc.allow {
				t.Fatalf("Allowed = %v, want %v", got.Allowed, tc.allow)
			}
			if !tc.allow && got.Reason != tc.reason {
				t.Fatalf("Reason = %q, want %q", got.Reason, tc.reason)
			}
		})
	}
}

func TestAuthorizeFailsClosed(t *testing.T) {
	a := NewAuthorizer(&fakeDirectory{broken: true})
	ctx := context.Background()
	admin := Identity{UserID: 99, Admin: true}

	topics := []Topic{
		{Kind: KindAttendanceSession, SessionID: 1},
		{Kind: KindTicketChat, TicketID: 3},
		StaffSubmissionsTopic(7),
		OwnerSubmissionsTopic(7, 99),
	}
	for _, topic := range topics {
		if got := a.Authorize(ctx, admin, topic); got.Allowed {
			t.Fatalf("directory failure must deny %s", topic.Path())
		}
	}
}
