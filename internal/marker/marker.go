package marker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"emc/internal/allocator"
	"emc/internal/archive"
	"emc/internal/execconfig"
	"emc/internal/output"
	appErr "emc/pkg/errors"
	"emc/pkg/utils/logger"
)

// Marker orchestrates parsing and comparison over a run's outputs.
type Marker struct {
	store *archive.Store
}

// NewMarker creates a marker over the archive store.
func NewMarker(store *archive.Store) (*Marker, error) {
	if store == nil {
		return nil, appErr.ValidationError("store", "required")
	}
	return &Marker{store: store}, nil
}

// Request identifies the attempt being marked and carries the rubric.
type Request struct {
	ModuleID     int64
	AssignmentID int64
	UserID       int64
	Attempt      int64
	Alloc        allocator.Allocator
	Scheme       execconfig.MarkingScheme
}

// Mark grades every allocator task of the attempt and returns the
// report. Missing or truncated outputs are graded as empty, never
// errored; only a rubric weight defect is fatal.
func (m *Marker) Mark(ctx context.Context, req Request) (MarkReport, error) {
	cmp := ForScheme(req.Scheme)
	now := time.Now().UTC()
	report := MarkReport{CreatedAt: now, UpdatedAt: now}

	for i := range req.Alloc.Tasks {
		task := &req.Alloc.Tasks[i]
		tr := m.markTask(ctx, req, task, cmp, &report)
		report.Mark.Earned += tr.Awarded
		report.Mark.Total += tr.Possible
		report.Tasks = append(report.Tasks, tr)
	}

	score, err := OverallScore(report.Tasks)
	if err != nil {
		return MarkReport{}, err
	}
	report.OverallScore = score
	if report.Mark.Earned > report.Mark.Total {
		// possible only through a cap bug; clamp rather than persist a
		// report that violates earned <= total
		report.Mark.Earned = report.Mark.Total
	}
	return report, nil
}

func (m *Marker) markTask(ctx context.Context, req Request, task *allocator.Task,
	cmp Comparator, report *MarkReport) TaskResult {

	tr := TaskResult{
		TaskNumber: task.TaskNumber,
		Name:       task.Name,
		Weight:     req.Alloc.Weight(task),
	}

	memoRaw := m.readOrEmpty(ctx, m.store.MemoOutputPath(req.ModuleID, req.AssignmentID, task.TaskNumber))
	studentRaw := m.readOrEmpty(ctx, m.store.SubmissionOutputPath(
		req.ModuleID, req.AssignmentID, req.UserID, req.Attempt, task.TaskNumber))

	if task.CodeCoverage && report.CodeCoverage == nil {
		report.CodeCoverage = parseCoverage(studentRaw)
	}

	memoBlocks, diag := output.Align(output.Parse(memoRaw), len(task.Subsections))
	if diag != "" {
		report.Diagnostics = append(report.Diagnostics,
			fmt.Sprintf("task %d memo: %s", task.TaskNumber, diag))
	}
	studentBlocks, diag := output.Align(output.Parse(studentRaw), len(task.Subsections))
	if diag != "" {
		report.Diagnostics = append(report.Diagnostics,
			fmt.Sprintf("task %d: %s", task.TaskNumber, diag))
	}

	for si := range task.Subsections {
		sub := &task.Subsections[si]
		pattern := sub.Name
		res := cmp.Compare(sub, memoBlocks[si].Lines, studentBlocks[si].Lines, pattern)
		res.Feedback = feedbackLine(res)
		tr.Awarded += res.Awarded
		tr.Possible += res.Possible
		tr.Subsections = append(tr.Subsections, res)
	}
	return tr
}

func (m *Marker) readOrEmpty(ctx context.Context, path string) []byte {
	data, err := m.store.Read(path)
	if err != nil {
		if !appErr.Is(err, appErr.StorageNotFound) {
			logger.Warn(ctx, "output blob unreadable, grading as empty",
				zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	return data
}

// feedbackLine renders the human-readable verdict for one subsection.
func feedbackLine(res SubsectionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d/%d", res.Name, res.Awarded, res.Possible)
	if len(res.MatchedPatterns) > 0 {
		fmt.Fprintf(&b, "; matched: %s", strings.Join(res.MatchedPatterns, ", "))
	}
	if len(res.MissedPatterns) > 0 {
		fmt.Fprintf(&b, "; missed: %s", strings.Join(res.MissedPatterns, ", "))
	}
	return b.String()
}

// SkeletonReport builds the zero-mark report persisted when a run fails
// before marking could complete.
func SkeletonReport(alloc allocator.Allocator, diagnostic string) MarkReport {
	now := time.Now().UTC()
	report := MarkReport{CreatedAt: now, UpdatedAt: now}
	if diagnostic != "" {
		report.Diagnostics = []string{diagnostic}
	}
	for i := range alloc.Tasks {
		task := &alloc.Tasks[i]
		tr := TaskResult{
			TaskNumber: task.TaskNumber,
			Name:       task.Name,
			Weight:     alloc.Weight(task),
		}
		for si := range task.Subsections {
			sub := &task.Subsections[si]
			possible := possibleOf(sub)
			tr.Possible += possible
			tr.Subsections = append(tr.Subsections, SubsectionResult{
				Name:            sub.Name,
				Possible:        possible,
				MatchedPatterns: []string{},
				MissedPatterns:  []string{},
				Feedback:        "not graded: run failed",
			})
		}
		report.Mark.Total += tr.Possible
		report.Tasks = append(report.Tasks, tr)
	}
	return report
}
