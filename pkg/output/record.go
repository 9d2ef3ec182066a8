// Package output provides JSONL output for tracker events.
//
// Output is structured as typed record envelopes containing status
// transitions, log lines, sweep summaries and errors. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: lumitrack.<type>.v<version>
const (
	// TypeStatus identifies status transition records.
	TypeStatus = "lumitrack.status.v1"

	// TypeLog identifies log line records.
	TypeLog = "lumitrack.log.v1"

	// TypeSweep identifies bulk status refresh summaries.
	TypeSweep = "lumitrack.sweep.v1"

	// TypeError identifies error records.
	TypeError = "lumitrack.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "lumitrack.status.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// SessionID correlates every record of one watch session.
	SessionID string `json:"session_id"`

	// API is the backend base URL being observed.
	API string `json:"api"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// StatusRecord is emitted when a tracked entity changes status.
type StatusRecord struct {
	// Entity is the kind-qualified id, e.g. "job/0f3c...".
	Entity string `json:"entity"`

	From string `json:"from,omitempty"`
	To   string `json:"to"`

	// ExperimentID is set for workflows.
	ExperimentID string `json:"experiment_id,omitempty"`
}

// LogRecord carries lines newly appended to the selection's log buffer.
type LogRecord struct {
	Entity string   `json:"entity"`
	Lines  []string `json:"lines"`
}

// SweepRecord summarises one bulk status refresh.
type SweepRecord struct {
	Checked int `json:"checked"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`

	// Duration is the sweep duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// ErrorRecord is the data payload for errors.
//
// Background failures are emitted as records rather than ending the
// watch session.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Entity is the entity related to this error, if applicable.
	Entity string `json:"entity,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeNotFound indicates the entity no longer exists on the backend.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeUnavailable indicates the backend could not be reached or failed.
	ErrCodeUnavailable = "UNAVAILABLE"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeBadStatus indicates an unrecognised status value.
	ErrCodeBadStatus = "BAD_STATUS"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
