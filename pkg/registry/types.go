package registry

import (
	"time"

	"github.com/3leaps/lumitrack/pkg/status"
)

// LaunchRecord is the persisted record of an annotation job started from
// this machine.
//
// The backend owns the job; the record only remembers what was launched
// and the last status we observed, so launches can be listed offline.
type LaunchRecord struct {
	JobID     string `json:"job_id"`
	Name      string `json:"name,omitempty"`
	DatasetID string `json:"dataset_id"`
	Filename  string `json:"filename,omitempty"`
	APIBase   string `json:"api_base,omitempty"`

	Status status.Status `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Completed reports whether the last observed status is terminal.
func (r LaunchRecord) Completed() bool {
	return r.Status.IsCompleted()
}

// Observe records st as seen at now. The first completed status also sets
// EndedAt.
func (r *LaunchRecord) Observe(st status.Status, now time.Time) {
	now = now.UTC()
	r.Status = st
	r.ObservedAt = &now
	if st.IsCompleted() && r.EndedAt == nil {
		ended := now
		r.EndedAt = &ended
	}
}
