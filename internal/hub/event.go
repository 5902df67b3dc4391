package hub

import (
	"time"
)

type EventType string

const (
	EventConnection       EventType = "connection"
	EventAnalysisStart    EventType = "analysis_start"
	EventAnalysisUpdate   EventType = "analysis_update"
	EventAnalysisComplete EventType = "analysis_complete"
	EventAnalysisFailed   EventType = "analysis_failed"
)

// Event is the wire shape delivered to observers. Immutable once
// constructed; this schema is the public contract with UIs and must be
// preserved by any replacement transport.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Type      EventType      `json:"type"`
	Changes   map[string]any `json:"changes,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Status    string         `json:"status,omitempty"`
}

// NewEvent builds an update event for the given session, stamped now.
func NewEvent(sessionID string, typ EventType, changes map[string]any, message string) Event {
	return Event{
		ID:        sessionID,
		Type:      typ,
		Changes:   changes,
		Timestamp: time.Now(),
		Message:   message,
	}
}
