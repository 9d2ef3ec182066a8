package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/lumitrack/internal/errors"
	"github.com/3leaps/lumitrack/pkg/status"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

// Tracker is the subset of *tracker.Tracker the status API reads and drives.
type Tracker interface {
	Jobs() []tracker.Entity
	Job(id string) (tracker.Entity, bool)
	Experiments() []tracker.Experiment
	Experiment(id string) (tracker.Experiment, bool)
	Entity(ref tracker.EntityRef) (tracker.Entity, bool)
	Select(ctx context.Context, ref tracker.EntityRef) error
	ClearSelection()
	Selection() tracker.EntityRef
	SelectionState() tracker.SelectionState
	LogPolling() bool
	Logs() []string
}

var _ Tracker = (*tracker.Tracker)(nil)

// ExperimentView adds the derived status to an experiment.
type ExperimentView struct {
	tracker.Experiment
	Status status.Status `json:"status"`
}

// SelectionView describes the current log observation.
type SelectionView struct {
	Selection  *tracker.EntityRef     `json:"selection"`
	State      tracker.SelectionState `json:"state"`
	LogPolling bool                   `json:"log_polling"`
	Lines      int                    `json:"lines"`
	Warning    string                 `json:"warning,omitempty"`
}

// LogsView is the body of GET /selection/logs.
type LogsView struct {
	Selection *tracker.EntityRef `json:"selection"`
	Offset    int                `json:"offset"`
	Lines     []string           `json:"lines"`
}

// TrackerHandlers serves tracker snapshots.
type TrackerHandlers struct {
	t Tracker
}

// NewTrackerHandlers wraps t.
func NewTrackerHandlers(t Tracker) *TrackerHandlers {
	return &TrackerHandlers{t: t}
}

// Routes mounts the tracker endpoints on r.
func (h *TrackerHandlers) Routes(r chi.Router) {
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/experiments", h.ListExperiments)
	r.Get("/experiments/{id}", h.GetExperiment)
	r.Get("/selection", h.GetSelection)
	r.Put("/selection", h.PutSelection)
	r.Delete("/selection", h.DeleteSelection)
	r.Get("/selection/logs", h.GetLogs)
}

// ListJobs serves the job collection.
func (h *TrackerHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.t.Jobs())
}

// GetJob serves one job.
func (h *TrackerHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.t.Job(id)
	if !ok {
		apperrors.NotFound(w, r, "job "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListExperiments serves the experiment collection with derived statuses.
func (h *TrackerHandlers) ListExperiments(w http.ResponseWriter, r *http.Request) {
	exps := h.t.Experiments()
	views := make([]ExperimentView, len(exps))
	for i, e := range exps {
		views[i] = ExperimentView{Experiment: e, Status: e.Status()}
	}
	writeJSON(w, http.StatusOK, views)
}

// GetExperiment serves one experiment.
func (h *TrackerHandlers) GetExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, ok := h.t.Experiment(id)
	if !ok {
		apperrors.NotFound(w, r, "experiment "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, ExperimentView{Experiment: e, Status: e.Status()})
}

// GetSelection serves the selection state.
func (h *TrackerHandlers) GetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.selectionView(""))
}

// PutSelection selects the entity named by the {"kind","id"} body.
func (h *TrackerHandlers) PutSelection(w http.ResponseWriter, r *http.Request) {
	var ref tracker.EntityRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		apperrors.InvalidRequest(w, r, "invalid selection body: "+err.Error())
		return
	}
	if ref.Kind != tracker.KindJob && ref.Kind != tracker.KindWorkflow {
		respondWithError(w, r, fmt.Errorf("select %q: %w", ref.Kind, tracker.ErrUnknownKind))
		return
	}
	if ref.IsZero() {
		apperrors.InvalidRequest(w, r, "id is required")
		return
	}
	if _, ok := h.t.Entity(ref); !ok {
		apperrors.NotFound(w, r, ref.String()+" not found")
		return
	}

	// The selection stands even when the first log fetch fails.
	var warning string
	if err := h.t.Select(r.Context(), ref); err != nil {
		warning = err.Error()
	}
	writeJSON(w, http.StatusOK, h.selectionView(warning))
}

// DeleteSelection clears the selection.
func (h *TrackerHandlers) DeleteSelection(w http.ResponseWriter, r *http.Request) {
	h.t.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

// GetLogs serves the log buffer, starting at the optional ?offset.
func (h *TrackerHandlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apperrors.InvalidRequest(w, r, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	lines := h.t.Logs()
	if offset > len(lines) {
		offset = len(lines)
	}
	writeJSON(w, http.StatusOK, LogsView{
		Selection: refOrNil(h.t.Selection()),
		Offset:    offset,
		Lines:     append([]string{}, lines[offset:]...),
	})
}

func (h *TrackerHandlers) selectionView(warning string) SelectionView {
	return SelectionView{
		Selection:  refOrNil(h.t.Selection()),
		State:      h.t.SelectionState(),
		LogPolling: h.t.LogPolling(),
		Lines:      len(h.t.Logs()),
		Warning:    warning,
	}
}

func refOrNil(ref tracker.EntityRef) *tracker.EntityRef {
	if ref.IsZero() {
		return nil
	}
	return &ref
}
