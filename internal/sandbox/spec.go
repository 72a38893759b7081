// Package sandbox executes untrusted task commands with resource limits.
package sandbox

import "context"

// Limits describes hard resource limits enforced on one task run.
type Limits struct {
	TimeoutSecs  int
	MaxMemoryMB  int64
	MaxCPUs      int
	MaxProcesses int64
}

// RunSpec is the execution specification for one task of an attempt.
type RunSpec struct {
	RunID      string
	TaskNumber int64
	Command    string
	WorkDir    string
	Env        []string
	Limits     Limits
}

// RunOutcome captures raw execution data. A run that was killed for
// exceeding its limits is a successful outcome with TimedOut or
// OomKilled set; only failures of the machinery itself are errors.
type RunOutcome struct {
	ExitStatus int
	Stdout     string
	Stderr     string
	WallMs     int64
	MaxRSSKB   int64
	TimedOut   bool
	OomKilled  bool
}

// Engine runs one RunSpec to completion.
type Engine interface {
	Run(ctx context.Context, rs RunSpec) (RunOutcome, error)
	Kill(runID string) error
}

// Config controls engine behavior.
type Config struct {
	// StdoutMaxBytes caps captured stdout and stderr each; zero uses
	// the default.
	StdoutMaxBytes int64
	// KillGraceMs is how long a timed-out process gets between SIGTERM
	// and SIGKILL; zero uses the default.
	KillGraceMs int64
	// DisableNamespaces skips the network and user namespace isolation.
	// Only for hosts without unprivileged user namespaces.
	DisableNamespaces bool
}
