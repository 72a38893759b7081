// Package marker compares captured task output against the memo under
// the configured marking scheme and assembles the mark report.
package marker

import "time"

// SubsectionResult is the outcome of comparing one rubric subsection.
type SubsectionResult struct {
	Name            string   `json:"name"`
	Awarded         int      `json:"awarded"`
	Possible        int      `json:"possible"`
	MatchedPatterns []string `json:"matched_patterns"`
	MissedPatterns  []string `json:"missed_patterns"`
	Feedback        string   `json:"feedback,omitempty"`
}

// TaskResult aggregates the subsection results of one task.
type TaskResult struct {
	TaskNumber  int64              `json:"task_number"`
	Name        string             `json:"name"`
	Awarded     int                `json:"awarded"`
	Possible    int                `json:"possible"`
	Weight      float64            `json:"weight"`
	Subsections []SubsectionResult `json:"subsections"`
}

// Percentage returns the task score ratio in [0,1]. Tasks with nothing
// possible contribute zero.
func (t *TaskResult) Percentage() float64 {
	if t.Possible <= 0 {
		return 0
	}
	return float64(t.Awarded) / float64(t.Possible)
}

// Mark is the earned/total pair of a report.
type Mark struct {
	Earned int `json:"earned"`
	Total  int `json:"total"`
}

// CoverageReport is optional metadata attached when a coverage task
// produced a parseable summary.
type CoverageReport struct {
	Percent float64 `json:"percent"`
	Summary string  `json:"summary,omitempty"`
}

// MarkReport is the immutable grading artifact for one attempt.
type MarkReport struct {
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Mark         Mark            `json:"mark"`
	OverallScore int             `json:"overall_score"`
	Tasks        []TaskResult    `json:"tasks"`
	CodeCoverage *CoverageReport `json:"code_coverage,omitempty"`
	Diagnostics  []string        `json:"diagnostics,omitempty"`
}
