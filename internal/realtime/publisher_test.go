package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"emc/internal/events"
)

func TestPublishFansOutToStaffAndOwner(t *testing.T) {
	bus := NewBus()
	staff := bus.Subscribe("assignment:7:submissions:staff")
	owner := bus.Subscribe("assignment:7:submissions:owner:5")
	defer staff.Close()
	defer owner.Close()

	p := NewEventPublisher(bus)
	ev := events.Graded(events.Identity{
		SubmissionID: "s1", ModuleID: 1, AssignmentID: 7, UserID: 5, Attempt: 2,
	}, 8, 10, 80)
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for name, sub := range map[string]*Subscription{"staff": staff, "owner": owner} {
		raw := recvFrame(t, sub)
		var out Outbound
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if out.Type != "event" || out.Event != "submission.graded" {
			t.Fatalf("%s frame = %+v", name, out)
		}
		var payload map[string]any
		if err := json.Unmarshal(out.Payload, &payload); err != nil {
			t.Fatal(err)
		}
		if payload["submission_id"] != "s1" || payload["earned"] != float64(8) || payload["total"] != float64(10) {
			t.Fatalf("%s payload = %v", name, payload)
		}
		if _, leaked := payload["code"]; leaked {
			t.Fatalf("%s payload leaked failure fields: %v", name, payload)
		}
	}
}

func TestPublishFailedCarriesCodeAndMessage(t *testing.T) {
	bus := NewBus()
	owner := bus.Subscribe("assignment:7:submissions:owner:5")
	defer owner.Close()

	p := NewEventPublisher(bus)
	ev := events.Failed(events.Identity{SubmissionID: "s1", AssignmentID: 7, UserID: 5},
		"runner_infra", "sandbox unavailable")
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	var out Outbound
	if err := json.Unmarshal([]byte(recvFrame(t, owner)), &out); err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal(out.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["code"] != "runner_infra" || payload["message"] != "sandbox unavailable" {
		t.Fatalf("payload = %v", payload)
	}
}
