// Package allocator holds the normalized rubric for an assignment:
// tasks, their subsections and mark values, plus the optional regex
// vectors used by the regex marking scheme.
package allocator

import (
	"context"
	"encoding/json"
	"math"

	"emc/internal/archive"
	"emc/internal/execconfig"
	appErr "emc/pkg/errors"
)

const valueEpsilon = 1e-6

// Subsection is one rubric item inside a task. Regex is nil when the
// document omits it; after a save under the regex scheme it is always
// present (possibly empty).
type Subsection struct {
	Name  string    `json:"name"`
	Value float64   `json:"value"`
	Regex *[]string `json:"regex,omitempty"`
}

// Task is one rubric task. CodeCoverage tasks carry a server-derived
// value and have no subsection sum constraint.
type Task struct {
	TaskNumber   int64        `json:"task_number"`
	Name         string       `json:"name"`
	Value        float64      `json:"value"`
	CodeCoverage bool         `json:"code_coverage,omitempty"`
	Subsections  []Subsection `json:"subsections"`
}

// Allocator is the rubric document for one assignment.
type Allocator struct {
	TotalValue float64 `json:"total_value"`
	Tasks      []Task  `json:"tasks"`
}

// Validate enforces the rubric invariants.
func (a *Allocator) Validate() error {
	if len(a.Tasks) == 0 {
		return appErr.New(appErr.AllocatorInvalid).WithMessage("allocator has no tasks")
	}
	seen := make(map[int64]bool, len(a.Tasks))
	var taskSum float64
	for i := range a.Tasks {
		t := &a.Tasks[i]
		if t.TaskNumber <= 0 {
			return appErr.Newf(appErr.AllocatorInvalid, "task %q has non-positive task_number %d", t.Name, t.TaskNumber)
		}
		if seen[t.TaskNumber] {
			return appErr.Newf(appErr.AllocatorInvalid, "duplicate task_number %d", t.TaskNumber)
		}
		seen[t.TaskNumber] = true
		if t.Name == "" {
			return appErr.Newf(appErr.AllocatorInvalid, "task %d has empty name", t.TaskNumber)
		}
		if t.Value < 0 {
			return appErr.Newf(appErr.AllocatorInvalid, "task %d has negative value", t.TaskNumber)
		}
		var subSum float64
		for _, sub := range t.Subsections {
			if sub.Name == "" {
				return appErr.Newf(appErr.AllocatorInvalid, "task %d has a subsection with empty name", t.TaskNumber)
			}
			if sub.Value < 0 {
				return appErr.Newf(appErr.AllocatorInvalid, "subsection %q of task %d has negative value", sub.Name, t.TaskNumber)
			}
			subSum += sub.Value
		}
		if !t.CodeCoverage && math.Abs(subSum-t.Value) > valueEpsilon {
			return appErr.Newf(appErr.AllocatorInvalid,
				"task %d subsection values sum to %g, task value is %g", t.TaskNumber, subSum, t.Value)
		}
		taskSum += t.Value
	}
	if math.Abs(taskSum-a.TotalValue) > valueEpsilon {
		return appErr.Newf(appErr.AllocatorInvalid,
			"task values sum to %g, total_value is %g", taskSum, a.TotalValue)
	}
	return nil
}

// Weight returns the contribution of task to the overall score. A zero
// total yields weight zero; the run cannot earn marks.
func (a *Allocator) Weight(t *Task) float64 {
	if a.TotalValue == 0 {
		return 0
	}
	return t.Value / a.TotalValue
}

// TaskByNumber returns the task with the given number, or nil.
func (a *Allocator) TaskByNumber(n int64) *Task {
	for i := range a.Tasks {
		if a.Tasks[i].TaskNumber == n {
			return &a.Tasks[i]
		}
	}
	return nil
}

// normalizeRegex applies the regex-length rule to every subsection:
// absent vectors become empty, short vectors are right-padded with empty
// strings up to the subsection value, and overlong vectors are rejected.
func (a *Allocator) normalizeRegex() error {
	for ti := range a.Tasks {
		for si := range a.Tasks[ti].Subsections {
			sub := &a.Tasks[ti].Subsections[si]
			want := int(math.Round(sub.Value))
			if sub.Regex == nil {
				empty := []string{}
				sub.Regex = &empty
			}
			if len(*sub.Regex) > want {
				return appErr.Newf(appErr.AllocatorRegexOverlong,
					"subsection %q has %d regex patterns for value %d",
					sub.Name, len(*sub.Regex), want)
			}
			for len(*sub.Regex) < want {
				*sub.Regex = append(*sub.Regex, "")
			}
		}
	}
	return nil
}

// Parse decodes and validates an allocator document.
func Parse(data []byte) (Allocator, error) {
	var a Allocator
	if err := json.Unmarshal(data, &a); err != nil {
		return Allocator{}, appErr.Wrapf(err, appErr.AllocatorMalformed, "decode allocator")
	}
	if err := a.Validate(); err != nil {
		return Allocator{}, err
	}
	return a, nil
}

// Load reads the allocator for (module, assignment) from the store.
func Load(ctx context.Context, store *archive.Store, moduleID, assignmentID int64) (Allocator, error) {
	data, err := store.Read(store.AllocatorPath(moduleID, assignmentID))
	if err != nil {
		if appErr.Is(err, appErr.StorageNotFound) {
			return Allocator{}, appErr.Newf(appErr.AllocatorMissing,
				"no allocator for module %d assignment %d", moduleID, assignmentID)
		}
		return Allocator{}, err
	}
	return Parse(data)
}

// Save validates and persists the allocator for (module, assignment).
// Under the regex scheme the document is length-normalized first. If an
// allocator already on disk flags a task as code_coverage, that task's
// value is server-derived and survives the save unchanged, with
// total_value recomputed from the merged tasks.
func Save(ctx context.Context, store *archive.Store, moduleID, assignmentID int64,
	a Allocator, scheme execconfig.MarkingScheme) error {

	if existing, err := Load(ctx, store, moduleID, assignmentID); err == nil {
		merged := false
		for i := range a.Tasks {
			prev := existing.TaskByNumber(a.Tasks[i].TaskNumber)
			if prev != nil && prev.CodeCoverage {
				a.Tasks[i].CodeCoverage = true
				a.Tasks[i].Value = prev.Value
				merged = true
			}
		}
		if merged {
			var total float64
			for i := range a.Tasks {
				total += a.Tasks[i].Value
			}
			a.TotalValue = total
		}
	}

	if err := a.Validate(); err != nil {
		return err
	}
	if scheme == execconfig.SchemeRegex {
		if err := a.normalizeRegex(); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(&a, "", "  ")
	if err != nil {
		return appErr.Wrapf(err, appErr.AllocatorMalformed, "encode allocator")
	}
	return store.Save(store.AllocatorPath(moduleID, assignmentID), data)
}
