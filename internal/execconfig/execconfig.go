// Package execconfig is the typed view over the per-assignment execution
// configuration document stored under config/config.json.
package execconfig

import (
	"context"
	"encoding/json"

	"emc/internal/archive"
	appErr "emc/pkg/errors"
)

// MarkingScheme selects the comparator used by the marker.
type MarkingScheme string

const (
	SchemeExact      MarkingScheme = "exact"
	SchemePercentage MarkingScheme = "percentage"
	SchemeRegex      MarkingScheme = "regex"
)

// GradingPolicy decides which attempt counts for the final grade.
type GradingPolicy string

const (
	PolicyBest GradingPolicy = "best"
	PolicyLast GradingPolicy = "last"
)

// FeedbackScheme selects how feedback text is produced.
type FeedbackScheme string

const (
	FeedbackAuto   FeedbackScheme = "auto"
	FeedbackManual FeedbackScheme = "manual"
)

// Limits holds the sandbox resource caps for one task run.
type Limits struct {
	TimeoutSecs          int64 `json:"timeout_seconds"`
	MaxMemoryMB          int64 `json:"max_memory_mb"`
	MaxCPUs              int64 `json:"max_cpus"`
	MaxProcesses         int64 `json:"max_processes"`
	MaxUncompressedBytes int64 `json:"max_uncompressed_bytes"`
}

// Marking holds scheme, policy and attempt options.
type Marking struct {
	MarkingScheme            MarkingScheme  `json:"marking_scheme"`
	FeedbackScheme           FeedbackScheme `json:"feedback_scheme"`
	GradingPolicy            GradingPolicy  `json:"grading_policy"`
	PassMark                 int64          `json:"pass_mark"`
	MaxAttempts              int64          `json:"max_attempts"`
	LimitAttempts            bool           `json:"limit_attempts"`
	AllowPracticeSubmissions bool           `json:"allow_practice_submissions"`
}

// Project holds the toolchain setup for the assignment.
type Project struct {
	LanguageToolchain string   `json:"language_toolchain"`
	AllowedImports    []string `json:"allowed_imports"`
}

// Config is the per-assignment execution configuration document.
type Config struct {
	Execution Limits  `json:"execution"`
	Marking   Marking `json:"marking"`
	Project   Project `json:"project"`
}

// Default returns the config applied when fields are absent.
func Default() Config {
	return Config{
		Execution: Limits{
			TimeoutSecs:          30,
			MaxMemoryMB:          512,
			MaxCPUs:              1,
			MaxProcesses:         64,
			MaxUncompressedBytes: 256 << 20,
		},
		Marking: Marking{
			MarkingScheme:  SchemeExact,
			FeedbackScheme: FeedbackAuto,
			GradingPolicy:  PolicyLast,
			PassMark:       50,
			MaxAttempts:    10,
		},
		Project: Project{
			LanguageToolchain: "cpp",
			AllowedImports:    []string{},
		},
	}
}

// Validate checks positivity of numeric limits and enum membership.
func (c *Config) Validate() error {
	if c.Execution.TimeoutSecs <= 0 {
		return appErr.Newf(appErr.ConfigOutOfRange, "timeout_secs must be > 0, got %d", c.Execution.TimeoutSecs)
	}
	if c.Execution.MaxMemoryMB <= 0 {
		return appErr.Newf(appErr.ConfigOutOfRange, "max_memory_mb must be > 0, got %d", c.Execution.MaxMemoryMB)
	}
	if c.Execution.MaxCPUs <= 0 {
		return appErr.Newf(appErr.ConfigOutOfRange, "max_cpus must be > 0, got %d", c.Execution.MaxCPUs)
	}
	if c.Execution.MaxProcesses <= 0 {
		return appErr.Newf(appErr.ConfigOutOfRange, "max_processes must be > 0, got %d", c.Execution.MaxProcesses)
	}
	if c.Execution.MaxUncompressedBytes <= 0 {
		return appErr.Newf(appErr.ConfigOutOfRange, "max_uncompressed_bytes must be > 0, got %d", c.Execution.MaxUncompressedBytes)
	}
	switch c.Marking.MarkingScheme {
	case SchemeExact, SchemePercentage, SchemeRegex:
	default:
		return appErr.Newf(appErr.ConfigMalformed, "unknown marking_scheme %q", c.Marking.MarkingScheme)
	}
	switch c.Marking.GradingPolicy {
	case PolicyBest, PolicyLast:
	default:
		return appErr.Newf(appErr.ConfigMalformed, "unknown grading_policy %q", c.Marking.GradingPolicy)
	}
	switch c.Marking.FeedbackScheme {
	case FeedbackAuto, FeedbackManual:
	default:
		return appErr.Newf(appErr.ConfigMalformed, "unknown feedback_scheme %q", c.Marking.FeedbackScheme)
	}
	if c.Marking.PassMark < 0 || c.Marking.PassMark > 100 {
		return appErr.Newf(appErr.ConfigOutOfRange, "pass_mark must be within [0,100], got %d", c.Marking.PassMark)
	}
	return nil
}

// Load reads, default-merges and validates the config document for
// (module, assignment) from the archive store.
func Load(ctx context.Context, store *archive.Store, moduleID, assignmentID int64) (Config, error) {
	data, err := store.Read(store.ConfigPath(moduleID, assignmentID))
	if err != nil {
		if appErr.Is(err, appErr.StorageNotFound) {
			return Config{}, appErr.Newf(appErr.ConfigMissing,
				"no execution config for module %d assignment %d", moduleID, assignmentID)
		}
		return Config{}, err
	}
	return Parse(data)
}

// Parse decodes raw JSON over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, appErr.Wrapf(err, appErr.ConfigMalformed, "decode execution config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save validates and persists the config document.
func Save(ctx context.Context, store *archive.Store, moduleID, assignmentID int64, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return appErr.Wrapf(err, appErr.ConfigMalformed, "encode execution config")
	}
	return store.Save(store.ConfigPath(moduleID, assignmentID), data)
}
