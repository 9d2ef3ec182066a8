// Package fakeapi serves an in-memory Lumigator backend for tests.
package fakeapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/3leaps/lumitrack/pkg/lumigator"
)

// APIPrefix is the version prefix served by the fake.
const APIPrefix = "/api/v1"

// Server is an httptest-backed fake. All setters are safe for concurrent use
// with in-flight requests.
type Server struct {
	srv *httptest.Server

	mu             sync.Mutex
	jobs           map[string]lumigator.Job
	jobLogs        map[string]string
	experiments    map[string]lumigator.Experiment
	workflowLogs   map[string]string
	datasets       map[string]lumigator.Dataset
	failures       map[string]int
	hits           map[string]int
	ids            []string
	annotateStatus string
	annotations    []lumigator.AnnotateRequest
}

// New starts a fake backend and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		jobs:           make(map[string]lumigator.Job),
		jobLogs:        make(map[string]string),
		experiments:    make(map[string]lumigator.Experiment),
		workflowLogs:   make(map[string]string),
		datasets:       make(map[string]lumigator.Dataset),
		failures:       make(map[string]int),
		hits:           make(map[string]int),
		annotateStatus: "created",
	}
	s.srv = httptest.NewServer(s.routes())
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the API root, including the version prefix.
func (s *Server) URL() string {
	return s.srv.URL + APIPrefix
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Route(APIPrefix, func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, lumigator.HealthResponse{Status: "OK", DeploymentType: "local"})
		})
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}", s.getJob)
		r.Get("/jobs/{id}/logs", s.getJobLogs)
		r.Post("/jobs/annotate/", s.annotate)
		r.Get("/experiments", s.listExperiments)
		r.Post("/experiments/", s.createExperiment)
		r.Get("/experiments/{id}", s.getExperiment)
		r.Post("/workflows/", s.createWorkflow)
		r.Get("/workflows/{id}", s.getWorkflow)
		r.Get("/workflows/{id}/logs", s.getWorkflowLogs)
		r.Get("/datasets", s.listDatasets)
		r.Get("/datasets/{id}", s.getDataset)
		r.Delete("/datasets/{id}", s.deleteDataset)
	})
	return r
}

// record counts requests and applies injected failures.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + trimPrefix(r.URL.Path)
		s.mu.Lock()
		s.hits[key]++
		code, fail := s.failures[key]
		s.mu.Unlock()
		if fail {
			writeJSON(w, code, map[string]string{"detail": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func trimPrefix(p string) string {
	if len(p) >= len(APIPrefix) && p[:len(APIPrefix)] == APIPrefix {
		return p[len(APIPrefix):]
	}
	return p
}

// Hits returns how many times method+path was requested. path excludes the
// version prefix, e.g. Hits("GET", "/jobs/j1").
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// Fail makes method+path answer with code until Recover is called.
func (s *Server) Fail(method, path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = code
}

// Recover clears an injected failure.
func (s *Server) Recover(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, method+" "+path)
}

// QueueIDs sets the ids assigned to the next created jobs, in order.
func (s *Server) QueueIDs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, ids...)
}

// SetAnnotateStatus sets the status new annotation jobs are created with.
func (s *Server) SetAnnotateStatus(st string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotateStatus = st
}

// Annotations returns the annotation requests received so far.
func (s *Server) Annotations() []lumigator.AnnotateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lumigator.AnnotateRequest(nil), s.annotations...)
}

// AddJob stores or replaces a job.
func (s *Server) AddJob(job lumigator.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = lumigator.Timestamp{Time: time.Now().UTC()}
	}
	s.jobs[job.ID] = job
}

// SetJobStatus updates the status of a stored job.
func (s *Server) SetJobStatus(id, st string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.ID = id
	job.Status = st
	s.jobs[id] = job
}

// SetJobLogs sets the full log text returned for a job.
func (s *Server) SetJobLogs(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobLogs[id] = text
}

// AddExperiment stores or replaces an experiment and its workflows.
func (s *Server) AddExperiment(exp lumigator.Experiment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range exp.Workflows {
		exp.Workflows[i].ExperimentID = exp.ID
	}
	s.experiments[exp.ID] = exp
}

// SetWorkflowStatus updates a workflow status wherever it is stored.
func (s *Server) SetWorkflowStatus(id, st string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for eid, exp := range s.experiments {
		for i := range exp.Workflows {
			if exp.Workflows[i].ID == id {
				exp.Workflows[i].Status = st
				s.experiments[eid] = exp
			}
		}
	}
}

// SetWorkflowLogs sets the full log text returned for a workflow.
func (s *Server) SetWorkflowLogs(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflowLogs[id] = text
}

// AddDataset stores or replaces a dataset.
func (s *Server) AddDataset(ds lumigator.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[ds.ID] = ds
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	items := sortedValues(s.jobs, func(j lumigator.Job) string { return j.ID })
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, lumigator.ListResponse[lumigator.Job]{Total: len(items), Items: items})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job, ok := s.jobs[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		notFound(w, "job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.jobs[id]
	text := s.jobLogs[id]
	s.mu.Unlock()
	if !ok {
		notFound(w, "job")
		return
	}
	writeJSON(w, http.StatusOK, lumigator.LogsResponse{Logs: &text})
}

func (s *Server) annotate(w http.ResponseWriter, r *http.Request) {
	var req lumigator.AnnotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[req.Dataset]; !ok {
		notFound(w, "dataset")
		return
	}
	id := s.nextIDLocked()
	now := lumigator.Timestamp{Time: time.Now().UTC()}
	job := lumigator.Job{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Status:      s.annotateStatus,
		Metadata:    lumigator.JobMetadata{JobType: req.JobConfig.JobType},
		CreatedAt:   now,
		StartTime:   now,
	}
	s.jobs[id] = job
	s.annotations = append(s.annotations, req)
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) listExperiments(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	items := sortedValues(s.experiments, func(e lumigator.Experiment) string { return e.ID })
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, lumigator.ListResponse[lumigator.Experiment]{Total: len(items), Items: items})
}

func (s *Server) nextIDLocked() string {
	if len(s.ids) > 0 {
		var id string
		id, s.ids = s.ids[0], s.ids[1:]
		return id
	}
	return uuid.NewString()
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req lumigator.CreateExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "name is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[req.Dataset]; !ok {
		notFound(w, "dataset")
		return
	}
	now := lumigator.Timestamp{Time: time.Now().UTC()}
	exp := lumigator.Experiment{
		ID:          s.nextIDLocked(),
		Name:        req.Name,
		Description: req.Description,
		Task:        req.Task,
		Dataset:     req.Dataset,
		MaxSamples:  req.MaxSamples,
		CreatedAt:   now,
		UpdatedAt:   now,
		Workflows:   []lumigator.Workflow{},
	}
	s.experiments[exp.ID] = exp
	writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req lumigator.CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "model is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[req.ExperimentID]
	if !ok {
		notFound(w, "experiment")
		return
	}
	now := lumigator.Timestamp{Time: time.Now().UTC()}
	wf := lumigator.Workflow{
		ID:           s.nextIDLocked(),
		ExperimentID: exp.ID,
		Model:        req.Model,
		Name:         req.Name,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
		Status:       "created",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	exp.Workflows = append(exp.Workflows, wf)
	s.experiments[exp.ID] = exp
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) getExperiment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	exp, ok := s.experiments[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		notFound(w, "experiment")
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) findWorkflow(id string) (lumigator.Workflow, bool) {
	for _, exp := range s.experiments {
		for _, wf := range exp.Workflows {
			if wf.ID == id {
				return wf, true
			}
		}
	}
	return lumigator.Workflow{}, false
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	wf, ok := s.findWorkflow(chi.URLParam(r, "id"))
	s.mu.Unlock()
	if !ok {
		notFound(w, "workflow")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) getWorkflowLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.findWorkflow(id)
	text := s.workflowLogs[id]
	s.mu.Unlock()
	if !ok {
		notFound(w, "workflow")
		return
	}
	writeJSON(w, http.StatusOK, lumigator.LogsResponse{Logs: &text})
}

func (s *Server) listDatasets(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	items := sortedValues(s.datasets, func(d lumigator.Dataset) string { return d.ID })
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, lumigator.ListResponse[lumigator.Dataset]{Total: len(items), Items: items})
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ds, ok := s.datasets[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		notFound(w, "dataset")
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) deleteDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.datasets[id]
	delete(s.datasets, id)
	s.mu.Unlock()
	if !ok {
		notFound(w, "dataset")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sortedValues[T any](m map[string]T, key func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": what + " not found"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
