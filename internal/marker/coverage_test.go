package marker

import (
	"context"
	"strings"
	"testing"

	"emc/internal/allocator"
	"emc/internal/execconfig"
)

const coverageJSON = `{
  "generated_at": "2026-08-29T10:00:00Z",
  "summary": {"total_files": 3, "total_lines": 200, "covered_lines": 150, "coverage_percent": 75.0},
  "files": []
}`

func TestParseCoverage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		wantNil bool
	}{
		{name: "summary with percent", raw: "harness banner\n" + coverageJSON, want: 75.0},
		{name: "percent derived from lines", raw: `{"summary":{"total_lines":50,"covered_lines":25}}`, want: 50.0},
		{name: "no json at all", raw: "plain text output", wantNil: true},
		{name: "broken json", raw: "{not json", wantNil: true},
		{name: "empty summary", raw: `{"summary":{}}`, wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCoverage([]byte(tt.raw))
			if tt.wantNil {
				if got != nil {
					t.Fatalf("parseCoverage = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("parseCoverage = nil")
			}
			if got.Percent != tt.want {
				t.Fatalf("percent = %g, want %g", got.Percent, tt.want)
			}
		})
	}
}

func TestMarkAttachesCoverageReport(t *testing.T) {
	m, store := markerFixture(t)
	ctx := context.Background()

	alloc := allocator.Allocator{
		TotalValue: 25,
		Tasks: []allocator.Task{
			{
				TaskNumber:  1,
				Name:        "Task 1",
				Value:       20,
				Subsections: []allocator.Subsection{{Name: "correct", Value: 20}},
			},
			{
				TaskNumber:   2,
				Name:         "Coverage",
				Value:        5,
				CodeCoverage: true,
				Subsections:  []allocator.Subsection{},
			},
		},
	}
	if err := store.Save(store.MemoOutputPath(1, 2, 1), blob("answer\n")); err != nil {
		t.Fatalf("save memo: %v", err)
	}
	if err := store.Save(store.SubmissionOutputPath(1, 2, 3, 1, 1), blob("answer\n")); err != nil {
		t.Fatalf("save student: %v", err)
	}
	if err := store.Save(store.SubmissionOutputPath(1, 2, 3, 1, 2), []byte("harness banner\n"+coverageJSON)); err != nil {
		t.Fatalf("save coverage output: %v", err)
	}

	report, err := m.Mark(ctx, Request{
		ModuleID: 1, AssignmentID: 2, UserID: 3, Attempt: 1,
		Alloc:  alloc,
		Scheme: execconfig.SchemeExact,
	})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if report.CodeCoverage == nil {
		t.Fatal("coverage block missing from report")
	}
	if report.CodeCoverage.Percent != 75.0 {
		t.Fatalf("coverage percent = %g, want 75", report.CodeCoverage.Percent)
	}
	if !strings.Contains(report.CodeCoverage.Summary, "150/200") {
		t.Fatalf("summary = %q", report.CodeCoverage.Summary)
	}
}

func TestMarkNoCoverageBlockWhenOutputUnparseable(t *testing.T) {
	m, store := markerFixture(t)

	alloc := allocator.Allocator{
		TotalValue: 5,
		Tasks: []allocator.Task{{
			TaskNumber:   1,
			Name:         "Coverage",
			Value:        5,
			CodeCoverage: true,
			Subsections:  []allocator.Subsection{},
		}},
	}
	if err := store.Save(store.SubmissionOutputPath(1, 2, 3, 1, 1), []byte("tool crashed\n")); err != nil {
		t.Fatalf("save coverage output: %v", err)
	}

	report, err := m.Mark(context.Background(), Request{
		ModuleID: 1, AssignmentID: 2, UserID: 3, Attempt: 1,
		Alloc:  alloc,
		Scheme: execconfig.SchemeExact,
	})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if report.CodeCoverage != nil {
		t.Fatalf("coverage block = %+v, want nil", report.CodeCoverage)
	}
}
