// Package registry persists launch records for annotation jobs.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when no record matches a job id or prefix.
var ErrNotFound = errors.New("launch not found")

// ErrAmbiguous is returned when a job id prefix matches several records.
var ErrAmbiguous = errors.New("launch id prefix is ambiguous")

// Store persists and loads LaunchRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<job_id>/launch.json
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) LaunchDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) LaunchPath(jobID string) string {
	return filepath.Join(s.LaunchDir(jobID), "launch.json")
}

func (s *Store) ensureRoot() error {
	if s.root == "" {
		return fmt.Errorf("launch registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write stores record atomically (temp file + rename).
func (s *Store) Write(record *LaunchRecord) error {
	if record == nil {
		return fmt.Errorf("launch record is nil")
	}
	jobID := strings.TrimSpace(record.JobID)
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return fmt.Errorf("invalid job_id %q", jobID)
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	dir := s.LaunchDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create launch dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal launch record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "launch.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp launch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp launch file: %w", err)
	}

	if err := os.Rename(tmpName, s.LaunchPath(jobID)); err != nil {
		return fmt.Errorf("rename launch file: %w", err)
	}
	return nil
}

// Get loads one record by exact job id.
func (s *Store) Get(jobID string) (*LaunchRecord, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	b, err := os.ReadFile(s.LaunchPath(jobID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("launch.json is empty")
	}

	var record LaunchRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse launch.json: %w", err)
	}
	return &record, nil
}

// List returns every readable record, newest first. Unreadable records are
// skipped.
func (s *Store) List() ([]LaunchRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read launches root: %w", err)
	}

	out := make([]LaunchRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ResolveID expands a unique job id prefix to the full id.
func (s *Store) ResolveID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("job_id is required")
	}

	// Exact match first.
	if _, err := s.Get(input); err == nil {
		return input, nil
	}

	// Prefix match (allows table-friendly short IDs).
	launches, err := s.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, l := range launches {
		if strings.HasPrefix(l.JobID, input) {
			matches = append(matches, l.JobID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, input)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w (%d matches); use the full job_id", ErrAmbiguous, len(matches))
	}
}

// GCResult reports what GC removed.
type GCResult struct {
	Deleted     int  `json:"deleted"`
	WouldDelete int  `json:"would_delete"`
	DryRun      bool `json:"dry_run"`
}

// GC removes completed records that ended more than maxAge before now.
// Records that never completed are kept.
func (s *Store) GC(maxAge time.Duration, now time.Time, dryRun bool) (GCResult, error) {
	if maxAge <= 0 {
		return GCResult{}, fmt.Errorf("max age must be > 0")
	}
	launches, err := s.List()
	if err != nil {
		return GCResult{}, err
	}

	res := GCResult{DryRun: dryRun}
	now = now.UTC()
	for _, l := range launches {
		if !l.Completed() || l.EndedAt == nil {
			continue
		}
		if now.Sub(l.EndedAt.UTC()) <= maxAge {
			continue
		}
		if dryRun {
			res.WouldDelete++
			continue
		}
		if err := os.RemoveAll(s.LaunchDir(l.JobID)); err != nil {
			return res, fmt.Errorf("remove launch dir: %w", err)
		}
		res.Deleted++
	}
	return res, nil
}
