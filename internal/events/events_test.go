package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestConstructorsPopulateIdentity(t *testing.T) {
	id := Identity{SubmissionID: "s1", ModuleID: 1, AssignmentID: 2, UserID: 3, Attempt: 4}

	cases := []struct {
		ev   Event
		want Type
	}{
		{Queued(id), TypeQueued},
		{Running(id, 7), TypeRunning},
		{Graded(id, 8, 10, 80), TypeGraded},
		{Failed(id, "runner_infra", "sandbox unavailable"), TypeFailed},
		{Cancelled(id), TypeCancelled},
	}
	for _, tc := range cases {
		if tc.ev.Type != tc.want {
			t.Fatalf("type = %s, want %s", tc.ev.Type, tc.want)
		}
		if tc.ev.SubmissionID != "s1" || tc.ev.Attempt != 4 {
			t.Fatalf("identity not carried: %+v", tc.ev)
		}
		if tc.ev.EmittedAt.IsZero() {
			t.Fatalf("EmittedAt unset for %s", tc.ev.Type)
		}
	}
}

func TestEventJSONOmitsUnusedFields(t *testing.T) {
	id := Identity{SubmissionID: "s1", ModuleID: 1, AssignmentID: 2, UserID: 3, Attempt: 1}
	data, err := json.Marshal(Queued(id))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"task_number", "earned", "code"} {
		if _, ok := raw[key]; ok {
			t.Fatalf("queued event leaked %q: %s", key, data)
		}
	}
	if raw["type"] != "submission.queued" {
		t.Fatalf("type = %v", raw["type"])
	}
}

type recordingPublisher struct {
	events []Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestFanoutMirrorErrorsAreSwallowed(t *testing.T) {
	primary := &recordingPublisher{}
	broken := &recordingPublisher{err: errors.New("broker down")}
	healthy := &recordingPublisher{}
	f := &Fanout{Primary: primary, Mirrors: []Publisher{broken, healthy}}

	ev := Queued(Identity{SubmissionID: "s1"})
	if err := f.Publish(context.Background(), ev); err != nil {
		t.Fatalf("mirror failure surfaced: %v", err)
	}
	if len(primary.events) != 1 || len(healthy.events) != 1 {
		t.Fatalf("delivery counts: primary=%d healthy=%d", len(primary.events), len(healthy.events))
	}
}

func TestFanoutPrimaryErrorSurfaces(t *testing.T) {
	primary := &recordingPublisher{err: errors.New("bus closed")}
	f := &Fanout{Primary: primary}
	if err := f.Publish(context.Background(), Queued(Identity{SubmissionID: "s1"})); err == nil {
		t.Fatal("primary error swallowed")
	}
}
