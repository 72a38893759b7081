//go:build linux

package sandbox

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	appErr "emc/pkg/errors"
	"emc/pkg/utils/logger"
)

const (
	defaultStdoutMaxBytes int64 = 64 * 1024
	defaultKillGraceMs    int64 = 2000
)

type linuxEngine struct {
	cfg Config

	mu   sync.Mutex
	pids map[string]int
}

// NewEngine creates the Linux execution engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.StdoutMaxBytes <= 0 {
		cfg.StdoutMaxBytes = defaultStdoutMaxBytes
	}
	if cfg.KillGraceMs <= 0 {
		cfg.KillGraceMs = defaultKillGraceMs
	}
	return &linuxEngine{cfg: cfg, pids: make(map[string]int)}, nil
}

func (e *linuxEngine) Run(ctx context.Context, rs RunSpec) (RunOutcome, error) {
	if err := validateRunSpec(rs); err != nil {
		return RunOutcome{}, err
	}
	argv, err := shlex.Split(rs.Command)
	if err != nil || len(argv) == 0 {
		return RunOutcome{}, appErr.ValidationError("command", "not a parseable command line")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = rs.WorkDir
	cmd.Env = rs.Env
	cmd.SysProcAttr = buildSysProcAttr(!e.cfg.DisableNamespaces)

	stdout := newCappedBuffer(e.cfg.StdoutMaxBytes)
	stderr := newCappedBuffer(e.cfg.StdoutMaxBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RunOutcome{}, appErr.InfraError(err, "start")
	}
	pid := cmd.Process.Pid
	e.track(rs.RunID, pid)
	defer e.untrack(rs.RunID)

	if err := applyRlimits(pid, rs.Limits); err != nil {
		// the process is already running; kill it rather than grade an
		// unconfined run
		killGroup(pid, syscall.SIGKILL)
		_ = cmd.Wait()
		return RunOutcome{}, appErr.InfraError(err, "rlimit")
	}

	var timedOut bool
	done := make(chan struct{})
	watchdog := make(chan struct{})
	go func() {
		defer close(watchdog)
		wall := time.Duration(rs.Limits.TimeoutSecs) * time.Second
		var expire <-chan time.Time
		if wall > 0 {
			expire = time.After(wall)
		}
		select {
		case <-done:
			return
		case <-ctx.Done():
		case <-expire:
			timedOut = true
		}
		killGroup(pid, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(time.Duration(e.cfg.KillGraceMs) * time.Millisecond):
			killGroup(pid, syscall.SIGKILL)
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	<-watchdog

	if ctx.Err() != nil && !timedOut {
		return RunOutcome{}, ctx.Err()
	}

	outcome := RunOutcome{
		ExitStatus: exitStatus(waitErr, cmd),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		WallMs:     time.Since(start).Milliseconds(),
		MaxRSSKB:   maxRSSKB(cmd),
		TimedOut:   timedOut,
	}
	outcome.OomKilled = oomLikely(waitErr, outcome, rs.Limits)
	if waitErr != nil && !timedOut && !outcome.OomKilled && outcome.ExitStatus < 0 {
		logger.Warn(context.Background(), "task killed by signal",
			zap.String("run_id", rs.RunID), zap.Int64("task", rs.TaskNumber),
			zap.Error(waitErr))
	}
	return outcome, nil
}

// Kill terminates all tracked processes of the run.
func (e *linuxEngine) Kill(runID string) error {
	e.mu.Lock()
	pid, ok := e.pids[runID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	killGroup(pid, syscall.SIGTERM)
	return nil
}

func (e *linuxEngine) track(runID string, pid int) {
	e.mu.Lock()
	e.pids[runID] = pid
	e.mu.Unlock()
}

func (e *linuxEngine) untrack(runID string) {
	e.mu.Lock()
	delete(e.pids, runID)
	e.mu.Unlock()
}

// buildSysProcAttr confines the task in its own namespaces: a fresh
// network namespace with no interfaces and a user namespace whose only
// mapped identity carries no privilege on the host.
func buildSysProcAttr(isolate bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !isolate {
		return attr
	}

	attr.Cloneflags = uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID |
		syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC |
		syscall.CLONE_NEWNET | syscall.CLONE_NEWUSER)
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return attr
}

func applyRlimits(pid int, lim Limits) error {
	set := func(resource int, value uint64) error {
		rl := unix.Rlimit{Cur: value, Max: value}
		return unix.Prlimit(pid, resource, &rl, nil)
	}
	if lim.MaxMemoryMB > 0 {
		if err := set(unix.RLIMIT_AS, uint64(lim.MaxMemoryMB)<<20); err != nil {
			return err
		}
	}
	if lim.TimeoutSecs > 0 {
		cpus := lim.MaxCPUs
		if cpus < 1 {
			cpus = 1
		}
		if err := set(unix.RLIMIT_CPU, uint64(lim.TimeoutSecs*cpus)); err != nil {
			return err
		}
	}
	if lim.MaxProcesses > 0 {
		if err := set(unix.RLIMIT_NPROC, uint64(lim.MaxProcesses)); err != nil {
			return err
		}
	}
	return nil
}

func killGroup(pid int, sig syscall.Signal) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, sig)
}

func exitStatus(waitErr error, cmd *exec.Cmd) int {
	if state := cmd.ProcessState; state != nil {
		return state.ExitCode()
	}
	if waitErr == nil {
		return 0
	}
	return -1
}

func maxRSSKB(cmd *exec.Cmd) int64 {
	state := cmd.ProcessState
	if state == nil {
		return 0
	}
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	return usage.Maxrss
}

// oomLikely treats a signal death at or above the memory limit as an
// out-of-memory kill. The rlimit makes allocations fail first, so most
// OOM deaths show up as SIGSEGV or SIGABRT near the cap.
func oomLikely(waitErr error, outcome RunOutcome, lim Limits) bool {
	if waitErr == nil || lim.MaxMemoryMB <= 0 {
		return false
	}
	if outcome.ExitStatus >= 0 && outcome.ExitStatus <= 128 {
		return false
	}
	limitKB := lim.MaxMemoryMB << 10
	return outcome.MaxRSSKB >= limitKB*9/10
}
