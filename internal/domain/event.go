package domain

import "time"

// EventType identifies a recorder event on the bus.
type EventType string

const (
	EventRecordingStarted EventType = "recording_started"
	EventRecordingStopped EventType = "recording_stopped"
	EventCycleCompleted   EventType = "cycle_completed"
	EventSettingsUpdated  EventType = "settings_updated"
)

// Event is one notification fanned out to listeners (gateway clients, UIs).
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventHandler consumes one event. Handlers run on their own goroutines and
// must not block indefinitely.
type EventHandler func(event Event)

// EventBus fans events out to subscribers.
type EventBus interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Timestamp: time.Now(), Payload: payload}
}
