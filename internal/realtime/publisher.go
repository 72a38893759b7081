package realtime

import (
	"context"

	"emc/internal/events"
)

// EventPublisher turns coordinator lifecycle events into frames on the
// assignment's staff and owner topics.
type EventPublisher struct {
	bus *Bus
}

// NewEventPublisher creates the bus-backed publisher.
func NewEventPublisher(bus *Bus) *EventPublisher {
	return &EventPublisher{bus: bus}
}

func (p *EventPublisher) Publish(_ context.Context, ev events.Event) error {
	payload := payloadFor(ev)
	staff := StaffSubmissionsTopic(ev.AssignmentID).Path()
	owner := OwnerSubmissionsTopic(ev.AssignmentID, ev.UserID).Path()
	for _, path := range []string{staff, owner} {
		frame, err := EventFrame(path, string(ev.Type), payload)
		if err != nil {
			return err
		}
		p.bus.Broadcast(path, frame)
	}
	return nil
}

func payloadFor(ev events.Event) map[string]any {
	payload := map[string]any{"submission_id": ev.SubmissionID}
	switch ev.Type {
	case events.TypeRunning:
		payload["task_number"] = ev.TaskNumber
	case events.TypeGraded:
		payload["earned"] = ev.Earned
		payload["total"] = ev.Total
	case events.TypeFailed:
		payload["code"] = ev.Code
		payload["message"] = ev.Message
	}
	return payload
}
