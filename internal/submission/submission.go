// Package submission persists attempt records and their marks.
package submission

import (
	"context"
	"time"
)

// Status mirrors the coordinator's terminal and in-progress states as
// stored on the row.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusGraded    Status = "graded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Submission is one graded attempt of one user on one assignment.
type Submission struct {
	ID           string
	ModuleID     int64
	AssignmentID int64
	UserID       int64
	Attempt      int64
	Status       Status
	Earned       int
	Total        int
	Score        int
	IsPractice   bool
	Ignored      bool
	ArchivePath  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository defines attempt persistence.
type Repository interface {
	Create(ctx context.Context, sub *Submission) error
	GetByID(ctx context.Context, id string) (*Submission, error)
	// LatestAttempt returns the highest attempt number recorded for
	// the user on the assignment, zero when none exist.
	LatestAttempt(ctx context.Context, assignmentID, userID int64) (int64, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdateMark(ctx context.Context, id string, earned, total, score int) error
	SetIgnored(ctx context.Context, id string, ignored bool) error
}
