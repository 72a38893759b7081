package marker

import (
	"context"
	"strings"
	"testing"

	"emc/internal/allocator"
	"emc/internal/archive"
	"emc/internal/execconfig"
	"emc/internal/output"
)

func markerFixture(t *testing.T) (*Marker, *archive.Store) {
	t.Helper()
	store, err := archive.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	m, err := NewMarker(store)
	if err != nil {
		t.Fatalf("NewMarker: %v", err)
	}
	return m, store
}

func twoSubsectionAlloc() allocator.Allocator {
	return allocator.Allocator{
		TotalValue: 20,
		Tasks: []allocator.Task{{
			TaskNumber: 1,
			Name:       "Task 1",
			Value:      20,
			Subsections: []allocator.Subsection{
				{Name: "correct", Value: 10},
				{Name: "done", Value: 10},
			},
		}},
	}
}

func blob(blocks ...string) []byte {
	var b strings.Builder
	b.WriteString("harness banner\n")
	for _, block := range blocks {
		b.WriteString(output.Delimiter + "\n")
		b.WriteString(block)
	}
	return []byte(b.String())
}

func TestMarkEndToEnd(t *testing.T) {
	m, store := markerFixture(t)
	ctx := context.Background()

	memo := blob("this is correct\n", "all done\n")
	student := blob("this is correct\n", "nothing to see\n")
	if err := store.Save(store.MemoOutputPath(1, 2, 1), memo); err != nil {
		t.Fatalf("save memo: %v", err)
	}
	if err := store.Save(store.SubmissionOutputPath(1, 2, 3, 1, 1), student); err != nil {
		t.Fatalf("save student: %v", err)
	}

	report, err := m.Mark(ctx, Request{
		ModuleID: 1, AssignmentID: 2, UserID: 3, Attempt: 1,
		Alloc:  twoSubsectionAlloc(),
		Scheme: execconfig.SchemeExact,
	})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}

	if report.Mark.Earned != 10 || report.Mark.Total != 20 {
		t.Fatalf("mark = %d/%d, want 10/20", report.Mark.Earned, report.Mark.Total)
	}
	if report.OverallScore != 50 {
		t.Fatalf("overall = %d, want 50", report.OverallScore)
	}
	if len(report.Tasks) != 1 || len(report.Tasks[0].Subsections) != 2 {
		t.Fatalf("report shape: %+v", report.Tasks)
	}
	first := report.Tasks[0].Subsections[0]
	if first.Awarded != 10 || !strings.HasPrefix(first.Feedback, "correct: 10/10") {
		t.Fatalf("first subsection: %+v", first)
	}
	second := report.Tasks[0].Subsections[1]
	if second.Awarded != 0 || !strings.Contains(second.Feedback, "missed: done") {
		t.Fatalf("second subsection: %+v", second)
	}
	if len(report.Diagnostics) != 0 {
		t.Fatalf("diagnostics = %v", report.Diagnostics)
	}
}

func TestMarkMissingStudentOutputGradesEmpty(t *testing.T) {
	m, store := markerFixture(t)

	memo := blob("this is correct\n", "all done\n")
	if err := store.Save(store.MemoOutputPath(1, 2, 1), memo); err != nil {
		t.Fatalf("save memo: %v", err)
	}

	report, err := m.Mark(context.Background(), Request{
		ModuleID: 1, AssignmentID: 2, UserID: 3, Attempt: 1,
		Alloc:  twoSubsectionAlloc(),
		Scheme: execconfig.SchemeExact,
	})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if report.Mark.Earned != 0 || report.Mark.Total != 20 {
		t.Fatalf("mark = %d/%d, want 0/20", report.Mark.Earned, report.Mark.Total)
	}
}

func TestMarkSurplusBlocksRecorded(t *testing.T) {
	m, store := markerFixture(t)

	memo := blob("this is correct\n", "all done\n")
	student := blob("this is correct\n", "all done\n", "extra noise\n")
	if err := store.Save(store.MemoOutputPath(1, 2, 1), memo); err != nil {
		t.Fatalf("save memo: %v", err)
	}
	if err := store.Save(store.SubmissionOutputPath(1, 2, 3, 1, 1), student); err != nil {
		t.Fatalf("save student: %v", err)
	}

	report, err := m.Mark(context.Background(), Request{
		ModuleID: 1, AssignmentID: 2, UserID: 3, Attempt: 1,
		Alloc:  twoSubsectionAlloc(),
		Scheme: execconfig.SchemeExact,
	})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if report.Mark.Earned != 20 {
		t.Fatalf("earned = %d, want 20 despite surplus block", report.Mark.Earned)
	}
	if len(report.Diagnostics) != 1 || !strings.HasPrefix(report.Diagnostics[0], "task 1:") {
		t.Fatalf("diagnostics = %v", report.Diagnostics)
	}
}

func TestSkeletonReport(t *testing.T) {
	report := SkeletonReport(twoSubsectionAlloc(), "sandbox unavailable")
	if report.Mark.Earned != 0 || report.Mark.Total != 20 {
		t.Fatalf("mark = %d/%d, want 0/20", report.Mark.Earned, report.Mark.Total)
	}
	if report.OverallScore != 0 {
		t.Fatalf("overall = %d, want 0", report.OverallScore)
	}
	if len(report.Diagnostics) != 1 || report.Diagnostics[0] != "sandbox unavailable" {
		t.Fatalf("diagnostics = %v", report.Diagnostics)
	}
	subs := report.Tasks[0].Subsections
	if len(subs) != 2 || subs[0].Feedback != "not graded: run failed" {
		t.Fatalf("subsections = %+v", subs)
	}
}
