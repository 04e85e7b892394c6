package domain

import "time"

// EventType tags the variants emitted by a payment monitor.
type EventType string

const (
	EventStarted   EventType = "started"
	EventUpdate    EventType = "update"
	EventCompleted EventType = "completed"
	EventTimedOut  EventType = "timed_out"
	EventAborted   EventType = "aborted"
	EventError     EventType = "error"
	EventStopped   EventType = "stopped"
)

// Event is a single monitor notification. Update is set for EventUpdate and
// EventCompleted; Err is set for EventError and EventAborted.
type Event struct {
	Type     EventType
	Account  string
	Attempts int
	Update   *PaymentStatusUpdate
	Err      error
	At       time.Time
}
