package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records for tracker events.
//
// Implementations must be safe for concurrent use: status, log and sweep
// records arrive from different pollers.
type Writer interface {
	WriteStatus(ctx context.Context, rec *StatusRecord) error
	WriteLog(ctx context.Context, rec *LogRecord) error
	WriteSweep(ctx context.Context, rec *SweepRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// Writes are serialized using a mutex so lines never interleave.
type JSONLWriter struct {
	w         io.Writer
	sessionID string
	api       string
	now       func() time.Time
	mu        sync.Mutex

	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - sessionID: Correlation ID for this watch session
//   - api: Backend base URL being observed
func NewJSONLWriter(w io.Writer, sessionID, api string) *JSONLWriter {
	return &JSONLWriter{
		w:         w,
		sessionID: sessionID,
		api:       api,
		now:       time.Now,
	}
}

// WriteStatus emits a status transition record.
func (jw *JSONLWriter) WriteStatus(ctx context.Context, rec *StatusRecord) error {
	return jw.writeRecord(ctx, TypeStatus, rec)
}

// WriteLog emits a log record.
func (jw *JSONLWriter) WriteLog(ctx context.Context, rec *LogRecord) error {
	return jw.writeRecord(ctx, TypeLog, rec)
}

// WriteSweep emits a sweep summary record.
func (jw *JSONLWriter) WriteSweep(ctx context.Context, rec *SweepRecord) error {
	return jw.writeRecord(ctx, TypeSweep, rec)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// Close marks the writer as closed. The underlying writer is not closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:      recordType,
		TS:        jw.now().UTC(),
		SessionID: jw.sessionID,
		API:       jw.api,
		Data:      dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
