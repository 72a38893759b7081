// Package coordinator drives one submission attempt from queued
// archive to finalized mark report.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"emc/internal/allocator"
	"emc/internal/archive"
	"emc/internal/events"
	"emc/internal/execconfig"
	"emc/internal/gate"
	"emc/internal/marker"
	"emc/internal/sandbox"
	"emc/internal/status"
	"emc/internal/submission"
	appErr "emc/pkg/errors"
	"emc/pkg/utils/contextkey"
	"emc/pkg/utils/logger"
)

const (
	maxInfraRetries  = 2
	retryBackoffBase = 500 * time.Millisecond
	minRunDeadline   = 60 * time.Second
)

// Task is one runnable unit of an assignment, ordered by TaskNumber.
type Task struct {
	TaskNumber   int64
	Name         string
	Command      string
	CodeCoverage bool
}

// Request describes one attempt to grade.
type Request struct {
	SubmissionID string
	ModuleID     int64
	AssignmentID int64
	UserID       int64
	Attempt      int64
	// ArchivePath points at the uploaded archive; empty means the
	// attempt directory is already populated.
	ArchivePath string
	Tasks       []Task
}

func (r Request) validate() error {
	if r.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.ModuleID <= 0 || r.AssignmentID <= 0 || r.UserID <= 0 || r.Attempt <= 0 {
		return appErr.ValidationError("identity", "module, assignment, user and attempt are required")
	}
	if len(r.Tasks) == 0 {
		return appErr.ValidationError("tasks", "at least one task")
	}
	return nil
}

// Coordinator owns the active-run registry and the per-run state
// machine.
type Coordinator struct {
	store     *archive.Store
	engine    sandbox.Engine
	gate      *gate.Gate
	marker    *marker.Marker
	repo      submission.Repository
	statuses  *status.Cache
	publisher events.Publisher
	metrics   *metrics

	mu     sync.Mutex
	active map[string]*Handle
}

// Options carries the coordinator's collaborators. Store, engine, gate,
// marker, repo and publisher are required; the status cache is
// optional.
type Options struct {
	Store     *archive.Store
	Engine    sandbox.Engine
	Gate      *gate.Gate
	Marker    *marker.Marker
	Repo      submission.Repository
	Statuses  *status.Cache
	Publisher events.Publisher
}

// New validates the wiring.
func New(opts Options) (*Coordinator, error) {
	switch {
	case opts.Store == nil:
		return nil, appErr.ValidationError("store", "required")
	case opts.Engine == nil:
		return nil, appErr.ValidationError("engine", "required")
	case opts.Gate == nil:
		return nil, appErr.ValidationError("gate", "required")
	case opts.Marker == nil:
		return nil, appErr.ValidationError("marker", "required")
	case opts.Repo == nil:
		return nil, appErr.ValidationError("repo", "required")
	case opts.Publisher == nil:
		return nil, appErr.ValidationError("publisher", "required")
	}
	return &Coordinator{
		store:     opts.Store,
		engine:    opts.Engine,
		gate:      opts.Gate,
		marker:    opts.Marker,
		repo:      opts.Repo,
		statuses:  opts.Statuses,
		publisher: opts.Publisher,
		metrics:   newMetrics(),
		active:    make(map[string]*Handle),
	}, nil
}

// Handle controls one active run.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel requests cooperative shutdown of the run.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the run finishes and returns its terminal error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

func runKey(r Request) string {
	return fmt.Sprintf("%d:%d:%d", r.AssignmentID, r.UserID, r.Attempt)
}

// Start launches the run. A second start for the same
// (assignment, user, attempt) while one is active is rejected.
func (c *Coordinator) Start(ctx context.Context, req Request) (*Handle, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	key := runKey(req)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if _, busy := c.active[key]; busy {
		c.mu.Unlock()
		cancel()
		return nil, appErr.New(appErr.CoordinatorAlreadyRunning).
			WithDetail("key", key)
	}
	c.active[key] = h
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.active, key)
			c.mu.Unlock()
			cancel()
			close(h.done)
		}()
		h.err = c.run(runCtx, req)
	}()
	return h, nil
}

func (c *Coordinator) run(ctx context.Context, req Request) error {
	ctx = context.WithValue(ctx, contextkey.SubmissionID, req.SubmissionID)
	ctx = context.WithValue(ctx, contextkey.AssignmentID, req.AssignmentID)
	ident := events.Identity{
		SubmissionID: req.SubmissionID,
		ModuleID:     req.ModuleID,
		AssignmentID: req.AssignmentID,
		UserID:       req.UserID,
		Attempt:      req.Attempt,
	}
	c.metrics.started.Inc()
	c.setStatus(ctx, req, status.StateQueued, 0, "")
	c.emit(ctx, events.Queued(ident))

	cfg, alloc, err := c.prepare(ctx, req)
	if err != nil {
		return c.fail(ctx, req, ident, alloc, err)
	}
	c.setStatus(ctx, req, status.StatePrepared, 0, "")

	deadline := runDeadline(cfg, len(req.Tasks))
	runCtx, cancelRun := context.WithTimeout(ctx, deadline)
	defer cancelRun()

	for _, task := range req.Tasks {
		c.setStatus(ctx, req, status.StateRunning, task.TaskNumber, "")
		c.emit(ctx, events.Running(ident, task.TaskNumber))
		if err := c.runTask(runCtx, req, cfg, task); err != nil {
			if ctx.Err() != nil {
				return c.cancelled(context.WithoutCancel(ctx), req, ident)
			}
			return c.fail(context.WithoutCancel(ctx), req, ident, alloc, err)
		}
	}

	c.setStatus(ctx, req, status.StateMarking, 0, "")
	report, err := c.marker.Mark(ctx, marker.Request{
		ModuleID:     req.ModuleID,
		AssignmentID: req.AssignmentID,
		UserID:       req.UserID,
		Attempt:      req.Attempt,
		Alloc:        alloc,
		Scheme:       cfg.Marking.MarkingScheme,
	})
	if err != nil {
		return c.fail(ctx, req, ident, alloc, err)
	}
	if err := c.persistReport(ctx, req, report); err != nil {
		return c.fail(ctx, req, ident, alloc, err)
	}
	if err := c.repo.UpdateMark(ctx, req.SubmissionID, report.Mark.Earned, report.Mark.Total, report.OverallScore); err != nil {
		return c.fail(ctx, req, ident, alloc, err)
	}

	c.setStatus(ctx, req, status.StateFinalized, 0, "")
	c.emit(ctx, events.Graded(ident, report.Mark.Earned, report.Mark.Total, report.OverallScore))
	c.metrics.graded.Inc()
	logger.Info(ctx, "submission graded",
		zap.Int("earned", report.Mark.Earned),
		zap.Int("total", report.Mark.Total),
		zap.Int("score", report.OverallScore))
	return nil
}

// prepare materializes inputs and loads the rubric. Validation errors
// fail fast and are never retried.
func (c *Coordinator) prepare(ctx context.Context, req Request) (execconfig.Config, allocator.Allocator, error) {
	cfg, err := execconfig.Load(ctx, c.store, req.ModuleID, req.AssignmentID)
	if err != nil {
		return execconfig.Config{}, allocator.Allocator{}, err
	}
	alloc, err := allocator.Load(ctx, c.store, req.ModuleID, req.AssignmentID)
	if err != nil {
		return cfg, allocator.Allocator{}, err
	}
	attemptDir := c.store.AttemptDir(req.ModuleID, req.AssignmentID, req.UserID, req.Attempt)
	if err := c.store.EnsureDir(attemptDir); err != nil {
		return cfg, alloc, err
	}
	if req.ArchivePath != "" {
		if err := archive.Extract(req.ArchivePath, c.extractedDir(req), cfg.Execution.MaxUncompressedBytes); err != nil {
			return cfg, alloc, err
		}
	}
	return cfg, alloc, nil
}

func (c *Coordinator) extractedDir(req Request) string {
	return c.store.AttemptDir(req.ModuleID, req.AssignmentID, req.UserID, req.Attempt) + "/extracted"
}

// runTask admits through the gate, executes with infra retries and
// persists the captured output. The permit is released on every exit
// path.
func (c *Coordinator) runTask(ctx context.Context, req Request, cfg execconfig.Config, task Task) error {
	permit, err := c.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()

	workDir := fmt.Sprintf("%s/work_task_%d",
		c.store.AttemptDir(req.ModuleID, req.AssignmentID, req.UserID, req.Attempt), task.TaskNumber)
	err = sandbox.Stage(workDir,
		c.store.AssignmentFilesDir(req.ModuleID, req.AssignmentID),
		c.store.OverwriteFilesDir(req.ModuleID, req.AssignmentID),
		c.extractedDir(req))
	if err != nil {
		return err
	}

	rs := sandbox.RunSpec{
		RunID:      req.SubmissionID,
		TaskNumber: task.TaskNumber,
		Command:    task.Command,
		WorkDir:    workDir,
		Limits: sandbox.Limits{
			TimeoutSecs:  int(cfg.Execution.TimeoutSecs),
			MaxMemoryMB:  cfg.Execution.MaxMemoryMB,
			MaxCPUs:      int(cfg.Execution.MaxCPUs),
			MaxProcesses: cfg.Execution.MaxProcesses,
		},
	}

	outcome, err := c.runWithRetries(ctx, rs)
	if err != nil {
		return err
	}
	if outcome.TimedOut || outcome.OomKilled {
		logger.Warn(ctx, "task hit resource limit",
			zap.Int64("task", task.TaskNumber),
			zap.Bool("timed_out", outcome.TimedOut),
			zap.Bool("oom", outcome.OomKilled))
	}

	outPath := c.store.SubmissionOutputPath(
		req.ModuleID, req.AssignmentID, req.UserID, req.Attempt, task.TaskNumber)
	return c.store.Save(outPath, []byte(outcome.Stdout))
}

// runWithRetries retries infra failures only. Timeouts and OOM kills
// are data and come back as successful outcomes.
func (c *Coordinator) runWithRetries(ctx context.Context, rs sandbox.RunSpec) (sandbox.RunOutcome, error) {
	var lastErr error
	for attempt := 0; attempt <= maxInfraRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffBase * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return sandbox.RunOutcome{}, ctx.Err()
			case <-time.After(backoff):
			}
			logger.Warn(ctx, "retrying task after infra failure",
				zap.Int("attempt", attempt), zap.Error(lastErr))
		}
		outcome, err := c.engine.Run(ctx, rs)
		if err == nil {
			return outcome, nil
		}
		if appErr.GetCode(err) != appErr.RunnerInfra {
			return sandbox.RunOutcome{}, err
		}
		lastErr = err
	}
	return sandbox.RunOutcome{}, lastErr
}

func (c *Coordinator) persistReport(ctx context.Context, req Request, report marker.MarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return appErr.Wrap(err, appErr.StorageWriteFailed)
	}
	path := c.store.ReportPath(req.ModuleID, req.AssignmentID, req.UserID, req.Attempt)
	return c.store.Save(path, data)
}

// fail persists a skeleton report so the student always sees a
// diagnostic, then surfaces the terminal error.
func (c *Coordinator) fail(ctx context.Context, req Request, ident events.Identity,
	alloc allocator.Allocator, cause error) error {

	code := appErr.GetCode(cause)
	msg := code.Message()
	logger.Error(ctx, "run failed", zap.Error(cause))
	slug := failureSlug(code)

	if len(alloc.Tasks) > 0 {
		report := marker.SkeletonReport(alloc, fmt.Sprintf("run failed: %s", msg))
		if err := c.persistReport(ctx, req, report); err != nil {
			logger.Warn(ctx, "persist skeleton report failed", zap.Error(err))
		}
	}
	if err := c.repo.UpdateStatus(ctx, req.SubmissionID, submission.StatusFailed); err != nil {
		logger.Warn(ctx, "mark submission failed", zap.Error(err))
	}
	c.setStatus(ctx, req, status.StateFailed, 0, msg)
	c.emit(ctx, events.Failed(ident, slug, msg))
	c.metrics.failed.Inc()
	return appErr.Wrap(cause, appErr.CoordinatorFailed)
}

func (c *Coordinator) cancelled(ctx context.Context, req Request, ident events.Identity) error {
	_ = c.engine.Kill(req.SubmissionID)
	if err := c.repo.UpdateStatus(ctx, req.SubmissionID, submission.StatusCancelled); err != nil {
		logger.Warn(ctx, "mark submission cancelled", zap.Error(err))
	}
	c.setStatus(ctx, req, status.StateCancelled, 0, "")
	c.emit(ctx, events.Cancelled(ident))
	c.metrics.cancelled.Inc()
	return context.Canceled
}

func (c *Coordinator) setStatus(ctx context.Context, req Request, state status.State, taskNumber int64, msg string) {
	if c.statuses == nil {
		return
	}
	err := c.statuses.Set(ctx, status.RunStatus{
		SubmissionID: req.SubmissionID,
		AssignmentID: req.AssignmentID,
		UserID:       req.UserID,
		Attempt:      req.Attempt,
		State:        state,
		TaskNumber:   taskNumber,
		Message:      msg,
	})
	if err != nil {
		logger.Warn(ctx, "status cache update failed", zap.Error(err))
	}
}

func (c *Coordinator) emit(ctx context.Context, ev events.Event) {
	if err := c.publisher.Publish(ctx, ev); err != nil {
		logger.Warn(ctx, "event publish failed",
			zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// failureSlug buckets error codes into the stable identifiers carried
// by failure events.
func failureSlug(code appErr.ErrorCode) string {
	switch {
	case code >= 21000 && code < 22000:
		return "config_invalid"
	case code >= 22000 && code < 23000:
		return "allocator_invalid"
	case code == appErr.RunnerInfra:
		return "runner_infra"
	case code >= 24000 && code < 25000:
		return "marker_error"
	case code >= 20100 && code < 20200:
		return "storage_error"
	default:
		return "internal"
	}
}

// runDeadline is the whole-run ceiling above per-task limits.
func runDeadline(cfg execconfig.Config, taskCount int) time.Duration {
	total := time.Duration(cfg.Execution.TimeoutSecs*int64(taskCount)) * time.Second
	deadline := total + total/2
	if deadline < minRunDeadline {
		deadline = minRunDeadline
	}
	return deadline
}

