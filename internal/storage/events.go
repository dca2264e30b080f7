package storage

import "time"

// EventWriter is the interface for writing tool call audit events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ToolCallEvent)
	Close()
}

// ToolCallEvent represents a single dispatched tool call to be persisted.
type ToolCallEvent struct {
	RequestID     string
	SessionID     string
	Timestamp     time.Time
	ToolName      string
	Category      string // "read" or "write"
	ArgumentsJSON string
	Status        string // "ok", "error", "cancelled"
	ErrorKind     string
	ErrorDetail   string
	FailedStep    string
	LatencyMs     float32
	Source        string
}
