package submission

import (
	"context"
	"testing"

	appErr "emc/pkg/errors"
)

func seeded(t *testing.T) *MemoryRepository {
	t.Helper()
	repo := NewMemoryRepository()
	err := repo.Create(context.Background(), &Submission{
		ID: "s1", ModuleID: 1, AssignmentID: 2, UserID: 3, Attempt: 1,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return repo
}

func TestCreateAndGet(t *testing.T) {
	repo := seeded(t)
	sub, err := repo.GetByID(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if sub.Status != StatusQueued {
		t.Fatalf("status = %s, want queued default", sub.Status)
	}
	if sub.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not stamped")
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	repo := seeded(t)
	err := repo.Create(context.Background(), &Submission{ID: "s1", AssignmentID: 2, UserID: 3, Attempt: 2})
	if appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
}

func TestGetMissing(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.GetByID(context.Background(), "ghost")
	if appErr.GetCode(err) != appErr.RecordNotFound {
		t.Fatalf("err = %v, want RecordNotFound", err)
	}
}

func TestLatestAttempt(t *testing.T) {
	repo := seeded(t)
	ctx := context.Background()
	for _, attempt := range []int64{2, 3} {
		err := repo.Create(ctx, &Submission{
			ID: string(rune('a' + attempt)), AssignmentID: 2, UserID: 3, Attempt: attempt,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	got, err := repo.LatestAttempt(ctx, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Fatalf("latest = %d, want 3", got)
	}
	if got, _ := repo.LatestAttempt(ctx, 2, 99); got != 0 {
		t.Fatalf("latest for unknown user = %d, want 0", got)
	}
}

func TestUpdateMarkSetsGraded(t *testing.T) {
	repo := seeded(t)
	ctx := context.Background()
	if err := repo.UpdateMark(ctx, "s1", 8, 10, 80); err != nil {
		t.Fatal(err)
	}
	sub, _ := repo.GetByID(ctx, "s1")
	if sub.Earned != 8 || sub.Total != 10 || sub.Score != 80 || sub.Status != StatusGraded {
		t.Fatalf("after UpdateMark: %+v", sub)
	}
}

func TestUpdateMissingRow(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.UpdateStatus(context.Background(), "ghost", StatusFailed); appErr.GetCode(err) != appErr.RecordNotFound {
		t.Fatalf("err = %v, want RecordNotFound", err)
	}
}

func TestSetIgnored(t *testing.T) {
	repo := seeded(t)
	ctx := context.Background()
	if err := repo.SetIgnored(ctx, "s1", true); err != nil {
		t.Fatal(err)
	}
	sub, _ := repo.GetByID(ctx, "s1")
	if !sub.Ignored {
		t.Fatal("Ignored not set")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	repo := seeded(t)
	ctx := context.Background()
	sub, _ := repo.GetByID(ctx, "s1")
	sub.Earned = 99
	again, _ := repo.GetByID(ctx, "s1")
	if again.Earned != 0 {
		t.Fatal("repository leaked internal state")
	}
}
