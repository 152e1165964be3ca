package models

import (
	"database/sql"
	"time"
)

// LogEntry is one captured log event. It is built once by a trace entry point
// and passed by value from the producer through the sink to storage; nothing
// mutates it after construction.
type LogEntry struct {
	DateTimeCreated time.Time      `json:"date_time_created" db:"DateTimeCreated"`
	Category        string         `json:"category" db:"Category"`
	Contents        string         `json:"contents" db:"Contents"`
	StackTrace      string         `json:"stack_trace" db:"StackTrace"`
	ThreadID        string         `json:"thread_id" db:"ThreadId"`
	ProcessName     string         `json:"process_name" db:"ProcessName"`
	ProcessID       int            `json:"process_id" db:"ProcessId"`
	EventID         sql.NullInt32  `json:"event_id" db:"EventId"`
	Source          sql.NullString `json:"source" db:"Source"`
	MachineName     string         `json:"machine_name" db:"MachineName"`
}

// NewLogEntry builds an entry for a structured trace call, where the event id
// and the raising component are known.
func NewLogEntry(
	created time.Time,
	category, contents, stackTrace, threadID, processName string,
	processID int,
	eventID int32,
	source, machineName string,
) LogEntry {
	return LogEntry{
		DateTimeCreated: created,
		Category:        category,
		Contents:        contents,
		StackTrace:      stackTrace,
		ThreadID:        threadID,
		ProcessName:     processName,
		ProcessID:       processID,
		EventID:         sql.NullInt32{Int32: eventID, Valid: true},
		Source:          sql.NullString{String: source, Valid: true},
		MachineName:     machineName,
	}
}

// NewMessageEntry builds an entry for a plain message write. EventID and
// Source are left absent and are stored as NULL.
func NewMessageEntry(
	created time.Time,
	category, contents, stackTrace, threadID, processName string,
	processID int,
	machineName string,
) LogEntry {
	return LogEntry{
		DateTimeCreated: created,
		Category:        category,
		Contents:        contents,
		StackTrace:      stackTrace,
		ThreadID:        threadID,
		ProcessName:     processName,
		ProcessID:       processID,
		MachineName:     machineName,
	}
}

// HasEventID reports whether the entry came from a structured trace call.
func (e LogEntry) HasEventID() bool {
	return e.EventID.Valid
}
