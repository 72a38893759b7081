// Package events defines submission lifecycle events and their
// publishers.
package events

import "time"

// Type identifies a lifecycle transition.
type Type string

const (
	TypeQueued    Type = "submission.queued"
	TypeRunning   Type = "submission.running"
	TypeGraded    Type = "submission.graded"
	TypeFailed    Type = "submission.failed"
	TypeCancelled Type = "submission.cancelled"
)

// Event is one lifecycle transition of an attempt. Fields beyond the
// identity block are populated per type.
type Event struct {
	Type      Type      `json:"type"`
	EmittedAt time.Time `json:"emitted_at"`

	SubmissionID string `json:"submission_id"`
	ModuleID     int64  `json:"module_id"`
	AssignmentID int64  `json:"assignment_id"`
	UserID       int64  `json:"user_id"`
	Attempt      int64  `json:"attempt"`

	// running
	TaskNumber int64 `json:"task_number,omitempty"`

	// graded
	Earned int `json:"earned,omitempty"`
	Total  int `json:"total,omitempty"`
	Score  int `json:"score,omitempty"`

	// failed
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Identity names the attempt an event belongs to.
type Identity struct {
	SubmissionID string
	ModuleID     int64
	AssignmentID int64
	UserID       int64
	Attempt      int64
}

func base(t Type, id Identity) Event {
	return Event{
		Type:         t,
		EmittedAt:    time.Now().UTC(),
		SubmissionID: id.SubmissionID,
		ModuleID:     id.ModuleID,
		AssignmentID: id.AssignmentID,
		UserID:       id.UserID,
		Attempt:      id.Attempt,
	}
}

// Queued marks admission into the run queue.
func Queued(id Identity) Event { return base(TypeQueued, id) }

// Running marks the start of one task's execution.
func Running(id Identity, taskNumber int64) Event {
	ev := base(TypeRunning, id)
	ev.TaskNumber = taskNumber
	return ev
}

// Graded carries the final mark of a completed run.
func Graded(id Identity, earned, total, score int) Event {
	ev := base(TypeGraded, id)
	ev.Earned = earned
	ev.Total = total
	ev.Score = score
	return ev
}

// Failed marks a run abandoned after infrastructure errors.
func Failed(id Identity, code, message string) Event {
	ev := base(TypeFailed, id)
	ev.Code = code
	ev.Message = message
	return ev
}

// Cancelled marks a run stopped on request.
func Cancelled(id Identity) Event { return base(TypeCancelled, id) }
