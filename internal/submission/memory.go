package submission

import (
	"context"
	"sync"
	"time"

	appErr "emc/pkg/errors"
)

// MemoryRepository is an in-process Repository used by tests and the
// CLI's offline mode.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*Submission
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*Submission)}
}

func (r *MemoryRepository) Create(_ context.Context, sub *Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[sub.ID]; ok {
		return appErr.ValidationError("id", "already exists")
	}
	cp := *sub
	if cp.Status == "" {
		cp.Status = StatusQueued
	}
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	r.rows[sub.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.rows[id]
	if !ok {
		return nil, appErr.New(appErr.RecordNotFound).WithDetail("id", id)
	}
	cp := *sub
	return &cp, nil
}

func (r *MemoryRepository) LatestAttempt(_ context.Context, assignmentID, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max int64
	for _, sub := range r.rows {
		if sub.AssignmentID == assignmentID && sub.UserID == userID && sub.Attempt > max {
			max = sub.Attempt
		}
	}
	return max, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, status Status) error {
	return r.mutate(id, func(sub *Submission) {
		sub.Status = status
	})
}

func (r *MemoryRepository) UpdateMark(_ context.Context, id string, earned, total, score int) error {
	return r.mutate(id, func(sub *Submission) {
		sub.Earned = earned
		sub.Total = total
		sub.Score = score
		sub.Status = StatusGraded
	})
}

func (r *MemoryRepository) SetIgnored(_ context.Context, id string, ignored bool) error {
	return r.mutate(id, func(sub *Submission) {
		sub.Ignored = ignored
	})
}

func (r *MemoryRepository) mutate(id string, fn func(*Submission)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.rows[id]
	if !ok {
		return appErr.New(appErr.RecordNotFound).WithDetail("id", id)
	}
	fn(sub)
	sub.UpdatedAt = time.Now().UTC()
	return nil
}
