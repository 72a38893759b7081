package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"emc/internal/allocator"
	"emc/internal/archive"
	"emc/internal/events"
	"emc/internal/execconfig"
	"emc/internal/gate"
	"emc/internal/marker"
	"emc/internal/output"
	"emc/internal/sandbox"
	"emc/internal/submission"
	appErr "emc/pkg/errors"
)

type runResult struct {
	out sandbox.RunOutcome
	err error
}

// scriptedEngine replays per-task results in order; the last result
// repeats. A nil script blocks until release or context cancellation.
type scriptedEngine struct {
	mu      sync.Mutex
	script  map[int64][]runResult
	calls   map[int64]int
	killed  []string
	release chan struct{}
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{
		script:  make(map[int64][]runResult),
		calls:   make(map[int64]int),
		release: make(chan struct{}),
	}
}

func (e *scriptedEngine) Run(ctx context.Context, rs sandbox.RunSpec) (sandbox.RunOutcome, error) {
	e.mu.Lock()
	results := e.script[rs.TaskNumber]
	n := e.calls[rs.TaskNumber]
	e.calls[rs.TaskNumber] = n + 1
	e.mu.Unlock()

	if len(results) == 0 {
		select {
		case <-e.release:
			return sandbox.RunOutcome{}, nil
		case <-ctx.Done():
			return sandbox.RunOutcome{}, ctx.Err()
		}
	}
	if n >= len(results) {
		n = len(results) - 1
	}
	return results[n].out, results[n].err
}

func (e *scriptedEngine) Kill(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killed = append(e.killed, runID)
	return nil
}

func (e *scriptedEngine) callCount(task int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[task]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type testDeps struct {
	coord  *Coordinator
	store  *archive.Store
	engine *scriptedEngine
	repo   *submission.MemoryRepository
	pub    *recordingPublisher
}

func outputBlob(blocks ...string) string {
	var b strings.Builder
	b.WriteString("harness banner\n")
	for _, block := range blocks {
		b.WriteString(output.Delimiter + "\n")
		b.WriteString(block)
	}
	return b.String()
}

func coordinatorFixture(t *testing.T) *testDeps {
	t.Helper()
	store, err := archive.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	cfgData, err := json.Marshal(execconfig.Default())
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := store.Save(store.ConfigPath(1, 2), cfgData); err != nil {
		t.Fatalf("save config: %v", err)
	}

	alloc := allocator.Allocator{
		TotalValue: 10,
		Tasks: []allocator.Task{{
			TaskNumber:  1,
			Name:        "Task 1",
			Value:       10,
			Subsections: []allocator.Subsection{{Name: "correct", Value: 10}},
		}},
	}
	allocData, err := json.Marshal(alloc)
	if err != nil {
		t.Fatalf("marshal allocator: %v", err)
	}
	if err := store.Save(store.AllocatorPath(1, 2), allocData); err != nil {
		t.Fatalf("save allocator: %v", err)
	}
	if err := store.Save(store.MemoOutputPath(1, 2, 1), []byte(outputBlob("this is correct\n"))); err != nil {
		t.Fatalf("save memo: %v", err)
	}

	g, err := gate.New(2)
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	mk, err := marker.NewMarker(store)
	if err != nil {
		t.Fatalf("NewMarker: %v", err)
	}

	engine := newScriptedEngine()
	repo := submission.NewMemoryRepository()
	pub := &recordingPublisher{}

	coord, err := New(Options{
		Store:     store,
		Engine:    engine,
		Gate:      g,
		Marker:    mk,
		Repo:      repo,
		Publisher: pub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = repo.Create(context.Background(), &submission.Submission{
		ID:           "sub-1",
		ModuleID:     1,
		AssignmentID: 2,
		UserID:       3,
		Attempt:      1,
	})
	if err != nil {
		t.Fatalf("seed submission: %v", err)
	}
	return &testDeps{coord: coord, store: store, engine: engine, repo: repo, pub: pub}
}

func gradableRequest() Request {
	return Request{
		SubmissionID: "sub-1",
		ModuleID:     1,
		AssignmentID: 2,
		UserID:       3,
		Attempt:      1,
		Tasks:        []Task{{TaskNumber: 1, Name: "Task 1", Command: "make task1"}},
	}
}

func TestRunGradesSubmission(t *testing.T) {
	d := coordinatorFixture(t)
	d.engine.script[1] = []runResult{{out: sandbox.RunOutcome{Stdout: outputBlob("this is correct\n")}}}

	h, err := d.coord.Start(context.Background(), gradableRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	want := []events.Type{events.TypeQueued, events.TypeRunning, events.TypeGraded}
	got := d.pub.types()
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	graded := d.pub.last()
	if graded.Earned != 10 || graded.Total != 10 || graded.Score != 100 {
		t.Fatalf("graded event = %d/%d score %d", graded.Earned, graded.Total, graded.Score)
	}

	row, err := d.repo.GetByID(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row.Status != submission.StatusGraded || row.Earned != 10 || row.Score != 100 {
		t.Fatalf("row = %+v", row)
	}

	if _, err := d.store.Read(d.store.ReportPath(1, 2, 3, 1)); err != nil {
		t.Fatalf("report not persisted: %v", err)
	}
	if _, err := d.store.Read(d.store.SubmissionOutputPath(1, 2, 3, 1, 1)); err != nil {
		t.Fatalf("task output not persisted: %v", err)
	}
}

func TestDuplicateStartRejected(t *testing.T) {
	d := coordinatorFixture(t)

	h, err := d.coord.Start(context.Background(), gradableRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := d.coord.Start(context.Background(), gradableRequest()); appErr.GetCode(err) != appErr.CoordinatorAlreadyRunning {
		t.Fatalf("duplicate start error = %v", err)
	}

	close(d.engine.release)
	_ = h.Wait()

	// Slot frees once the first run finishes.
	h2, err := d.coord.Start(context.Background(), gradableRequest())
	if err != nil {
		t.Fatalf("restart after finish: %v", err)
	}
	_ = h2.Wait()
}

func TestInfraErrorRetried(t *testing.T) {
	d := coordinatorFixture(t)
	infra := appErr.InfraError(errors.New("container runtime gone"), "start")
	d.engine.script[1] = []runResult{
		{err: infra},
		{err: infra},
		{out: sandbox.RunOutcome{Stdout: outputBlob("this is correct\n")}},
	}

	h, err := d.coord.Start(context.Background(), gradableRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := d.engine.callCount(1); got != 3 {
		t.Fatalf("engine calls = %d, want 3", got)
	}
}

func TestInfraErrorExhaustsRetries(t *testing.T) {
	d := coordinatorFixture(t)
	infra := appErr.InfraError(errors.New("container runtime gone"), "start")
	d.engine.script[1] = []runResult{{err: infra}}

	h, err := d.coord.Start(context.Background(), gradableRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Wait(); appErr.GetCode(err) != appErr.CoordinatorFailed {
		t.Fatalf("Wait = %v", err)
	}
	if got := d.engine.callCount(1); got != 3 {
		t.Fatalf("engine calls = %d, want 3", got)
	}

	failed := d.pub.last()
	if failed.Type != events.TypeFailed || failed.Code != "runner_infra" {
		t.Fatalf("last event = %+v", failed)
	}
	row, _ := d.repo.GetByID(context.Background(), "sub-1")
	if row.Status != submission.StatusFailed {
		t.Fatalf("row status = %q", row.Status)
	}
	// The skeleton report still lands so the student sees a diagnostic.
	data, err := d.store.Read(d.store.ReportPath(1, 2, 3, 1))
	if err != nil {
		t.Fatalf("skeleton report missing: %v", err)
	}
	if !strings.Contains(string(data), "run failed") {
		t.Fatalf("skeleton report lacks diagnostic: %s", data)
	}
}

func TestMalformedAllocatorFailsBeforeExecution(t *testing.T) {
	d := coordinatorFixture(t)
	if err := d.store.Save(d.store.AllocatorPath(1, 2), []byte("{not json")); err != nil {
		t.Fatalf("corrupt allocator: %v", err)
	}

	h, err := d.coord.Start(context.Background(), gradableRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Wait(); appErr.GetCode(err) != appErr.CoordinatorFailed {
		t.Fatalf("Wait = %v", err)
	}
	if got := d.engine.callCount(1); got != 0 {
		t.Fatalf("engine calls = %d, want 0", got)
	}
	failed := d.pub.last()
	if failed.Type != events.TypeFailed || failed.Code != "allocator_invalid" {
		t.Fatalf("last event = %+v", failed)
	}
}

func TestCancelStopsRun(t *testing.T) {
	d := coordinatorFixture(t)

	h, err := d.coord.Start(context.Background(), gradableRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the run reach the engine before cancelling.
	deadline := time.After(2 * time.Second)
	for d.engine.callCount(1) == 0 {
		select {
		case <-deadline:
			t.Fatal("engine never invoked")
		case <-time.After(5 * time.Millisecond):
		}
	}
	h.Cancel()

	if err := h.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v", err)
	}
	d.engine.mu.Lock()
	killed := append([]string(nil), d.engine.killed...)
	d.engine.mu.Unlock()
	if len(killed) != 1 || killed[0] != "sub-1" {
		t.Fatalf("killed = %v", killed)
	}
	if last := d.pub.last(); last.Type != events.TypeCancelled {
		t.Fatalf("last event = %+v", last)
	}
	row, _ := d.repo.GetByID(context.Background(), "sub-1")
	if row.Status != submission.StatusCancelled {
		t.Fatalf("row status = %q", row.Status)
	}
}

func TestStartValidation(t *testing.T) {
	d := coordinatorFixture(t)
	req := gradableRequest()
	req.Tasks = nil
	if _, err := d.coord.Start(context.Background(), req); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("Start = %v", err)
	}
}
