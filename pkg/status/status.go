// Package status defines the lifecycle states reported for jobs, workflows
// and experiments, and the aggregation rule that derives an experiment's
// state from its workflows.
package status

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a job, workflow or experiment.
//
// NOTE: Values are transmitted by the backend as lower-case strings and are
// part of the wire contract.
type Status string

const (
	Created   Status = "created"
	Pending   Status = "pending"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"

	// Incomplete is synthesised client-side for experiments whose workflows
	// finished with a mix of successes and failures. The backend never sends it.
	Incomplete Status = "incomplete"

	// Stopped and Unrecoverable are reported by the job runtime for jobs only.
	Stopped       Status = "stopped"
	Unrecoverable Status = "unrecoverable"
)

// ErrUnknownStatus indicates a status string outside the known enumeration.
var ErrUnknownStatus = errors.New("unknown status")

var known = map[Status]struct{}{
	Created:       {},
	Pending:       {},
	Running:       {},
	Succeeded:     {},
	Failed:        {},
	Incomplete:    {},
	Stopped:       {},
	Unrecoverable: {},
}

// Completed is the set of statuses after which polling for an entity stops.
var Completed = []Status{Succeeded, Failed}

// Parse converts a wire value into a Status.
//
// The backend normalises its enums to lower case, so Parse does the same.
// Anything else is reported as ErrUnknownStatus rather than coerced.
func Parse(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := known[s]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

// IsCompleted reports whether s is in the completed set.
func (s Status) IsCompleted() bool {
	return s == Succeeded || s == Failed
}

// Valid reports whether s is a member of the enumeration.
func (s Status) Valid() bool {
	_, ok := known[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}
