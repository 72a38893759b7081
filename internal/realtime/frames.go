package realtime

import (
	"encoding/json"
	"time"
)

// Inbound is the client frame envelope. Fields beyond Type are
// populated per frame type.
type Inbound struct {
	Type   string          `json:"type"`
	Token  string          `json:"token,omitempty"`
	Topics []Topic         `json:"topics,omitempty"`
	Since  *uint64         `json:"since,omitempty"`
	Name   string          `json:"name,omitempty"`
	Topic  *Topic          `json:"topic,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Rejection is a [path, reason] pair inside subscribe_ok.
type Rejection [2]string

// Outbound is the server frame envelope.
type Outbound struct {
	Type string `json:"type"`

	// ready
	PolicyVersion uint64 `json:"policy_version,omitempty"`
	Exp           *int64 `json:"exp,omitempty"`

	// subscribe_ok / unsubscribe_ok
	Accepted []string    `json:"accepted,omitempty"`
	Rejected []Rejection `json:"rejected,omitempty"`
	Topics   []string    `json:"topics,omitempty"`

	// event
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      string          `json:"ts,omitempty"`

	// error
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// critical frames are never dropped by the bounded outbound queue.
func (o *Outbound) critical() bool {
	return o.Type != "event"
}

// encode renders per-type JSON. subscribe_ok and unsubscribe_ok always
// carry their list fields, even when empty; the envelope's omitempty
// tags would drop them.
func (o *Outbound) encode() ([]byte, error) {
	switch o.Type {
	case "subscribe_ok":
		return json.Marshal(struct {
			Type     string      `json:"type"`
			Accepted []string    `json:"accepted"`
			Rejected []Rejection `json:"rejected"`
		}{o.Type, o.Accepted, o.Rejected})
	case "unsubscribe_ok":
		return json.Marshal(struct {
			Type   string   `json:"type"`
			Topics []string `json:"topics"`
		}{o.Type, o.Topics})
	default:
		return json.Marshal(o)
	}
}

func readyFrame() *Outbound {
	return &Outbound{Type: "ready", PolicyVersion: 1}
}

func pongFrame() *Outbound {
	return &Outbound{Type: "pong"}
}

func subscribeOkFrame(accepted []string, rejected []Rejection) *Outbound {
	if accepted == nil {
		accepted = []string{}
	}
	if rejected == nil {
		rejected = []Rejection{}
	}
	return &Outbound{Type: "subscribe_ok", Accepted: accepted, Rejected: rejected}
}

func unsubscribeOkFrame(topics []string) *Outbound {
	if topics == nil {
		topics = []string{}
	}
	return &Outbound{Type: "unsubscribe_ok", Topics: topics}
}

func errorFrame(code, message string) *Outbound {
	return &Outbound{Type: "error", Code: code, Message: message}
}

// EventFrame renders a topic broadcast as wire bytes.
func EventFrame(topicPath, event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Outbound{
		Type:    "event",
		Topic:   topicPath,
		Event:   event,
		Payload: raw,
		TS:      time.Now().UTC().Format(time.RFC3339),
	})
}
