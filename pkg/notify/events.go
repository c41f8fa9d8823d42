// Package notify publishes run lifecycle events so dashboards and
// downstream collectors can follow long benchmark runs without
// polling report files.
package notify

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names a run lifecycle moment.
type EventType string

const (
	// EventRunStarted fires once when a roster begins.
	EventRunStarted EventType = "started"

	// EventUnitFinished fires after each unit is recorded.
	EventUnitFinished EventType = "unit_finished"

	// EventRunFinished fires when the roster completes.
	EventRunFinished EventType = "finished"

	// EventRunFailed fires when a run halts before completing.
	EventRunFailed EventType = "failed"
)

// Event is one run lifecycle notification.
type Event struct {
	Type  EventType      `json:"type"`
	RunID string         `json:"run_id"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// JSON encodes the event for the wire.
func (e Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// ParseEvent decodes a wire event.
func ParseEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Publisher sends run events somewhere.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event. It is the default when no broker is
// configured.
type NopPublisher struct{}

// NewNop returns a publisher that discards events.
func NewNop() Publisher {
	return NopPublisher{}
}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }
