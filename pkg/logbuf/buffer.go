// Package logbuf accumulates job log output observed through repeated polls.
//
// The status source always returns the complete log text to date, not a
// delta. Buffer extracts the increment since the previous observation and
// appends it line by line, suppressing a line that exactly repeats the
// buffer's last entry.
package logbuf

import (
	"strings"
	"sync"
)

// Buffer is an ordered, append-only sequence of log lines.
//
// Buffer is safe for concurrent use.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	limit int

	// snapshot is the line split of the last ingested text.
	snapshot []string
}

// New creates a buffer. A positive limit keeps only the most recent limit
// lines; zero keeps everything.
func New(limit int) *Buffer {
	if limit < 0 {
		limit = 0
	}
	return &Buffer{limit: limit}
}

// Ingest feeds the full log text returned by one poll and returns the lines
// that were appended.
//
// Empty text (no output yet) is ignored. A single terminating newline does not
// produce an empty trailing line.
func (b *Buffer) Ingest(text string) []string {
	if text == "" {
		return nil
	}
	next := splitLines(text)

	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := increment(b.snapshot, next)
	b.snapshot = next

	appended := make([]string, 0, len(candidates))
	for _, line := range candidates {
		// Only an immediate repeat is suppressed; a line reappearing after
		// other output is appended again.
		if n := len(b.lines); n > 0 && b.lines[n-1] == line {
			continue
		}
		b.lines = append(b.lines, line)
		appended = append(appended, line)
	}

	if b.limit > 0 && len(b.lines) > b.limit {
		b.lines = append([]string(nil), b.lines[len(b.lines)-b.limit:]...)
	}
	return appended
}

// Reset empties the buffer and forgets the previous observation.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
	b.snapshot = nil
}

// Lines returns a copy of the buffered lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// increment returns the part of next not already covered by prev.
//
// When prev is a prefix of next only the new tail is returned. When prev
// matches except for its final line, that line was still being written and
// next resumes from it. Any other shape (rotation, truncation, unrelated
// text) yields next in full.
func increment(prev, next []string) []string {
	if len(prev) == 0 {
		return next
	}
	if len(next) >= len(prev) && equalLines(prev, next[:len(prev)]) {
		return next[len(prev):]
	}
	n := len(prev) - 1
	if n > 0 && len(next) >= len(prev) && equalLines(prev[:n], next[:n]) {
		return next[n:]
	}
	return next
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
