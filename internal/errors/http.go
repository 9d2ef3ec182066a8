// Package errors defines the JSON error envelope served by the status API
// and the mapping from domain errors to HTTP responses.
//
// Envelopes are built with gofulmen's ErrorEnvelope and flattened into the
// {"error": {...}} body clients read.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/status"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

// Error codes carried in ErrorBody.Code.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeUpstreamError      = "UPSTREAM_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
)

// RequestIDHeader is carried as the envelope correlation id.
const RequestIDHeader = "X-Request-ID"

// HTTPErrorResponse is the body of every non-2xx response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one failure. Details merges the envelope's details
// and its validated context.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Severity  string         `json:"severity,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Path      string         `json:"path,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewEnvelope starts an envelope for r, correlated by its request id and
// stamped with a severity derived from statusCode.
func NewEnvelope(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(code, message)
	if id := requestID(w, r); id != "" {
		env = env.WithCorrelationID(id)
	}
	if r != nil {
		env = env.WithPath(r.URL.Path)
	}
	env, _ = env.WithSeverity(severityFor(statusCode))
	return env
}

// Body flattens env into the wire body.
func Body(env *gferrors.ErrorEnvelope) ErrorBody {
	body := ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		Severity:  string(env.Severity),
		RequestID: env.CorrelationID,
		Path:      env.Path,
		Timestamp: env.Timestamp,
	}
	if len(env.Details)+len(env.Context) > 0 {
		body.Details = make(map[string]any, len(env.Details)+len(env.Context))
		for k, v := range env.Context {
			body.Details[k] = v
		}
		for k, v := range env.Details {
			body.Details[k] = v
		}
	}
	return body
}

// WriteEnvelope writes env with the given status.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: Body(env)})
}

// WriteError writes an error envelope with the given status.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details map[string]any) {
	env := NewEnvelope(w, r, statusCode, code, message)
	if details != nil {
		env = env.WithDetails(details)
	}
	WriteEnvelope(w, env, statusCode)
}

// RespondWithError maps err to a status and code and writes the envelope.
// Backend failures carry the failing call in the envelope context.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, code := Classify(err)
	env := NewEnvelope(w, r, statusCode, code, err.Error())

	var apiErr *lumigator.APIError
	if stderrors.As(err, &apiErr) {
		env, _ = env.WithContext(map[string]any{
			"upstream_op":     apiErr.Op,
			"upstream_path":   apiErr.Path,
			"upstream_status": apiErr.StatusCode,
		})
	}
	WriteEnvelope(w, env, statusCode)
}

// Classify maps domain errors to an HTTP status and error code.
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case stderrors.Is(err, tracker.ErrUnknownKind):
		return http.StatusBadRequest, CodeInvalidRequest
	case lumigator.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case lumigator.IsServerError(err), lumigator.IsThrottled(err), lumigator.IsMalformedResponse(err):
		return http.StatusBadGateway, CodeUpstreamError
	case stderrors.Is(err, status.ErrUnknownStatus):
		return http.StatusBadGateway, CodeUpstreamError
	default:
		var apiErr *lumigator.APIError
		if stderrors.As(err, &apiErr) {
			return http.StatusBadGateway, CodeUpstreamError
		}
		return http.StatusInternalServerError, CodeInternalError
	}
}

// NotFound writes a NOT_FOUND envelope.
func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusNotFound, CodeNotFound, message, nil)
}

// MethodNotAllowed writes a METHOD_NOT_ALLOWED envelope.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method "+r.Method+" not allowed", nil)
}

// InvalidRequest writes an INVALID_REQUEST envelope.
func InvalidRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusBadRequest, CodeInvalidRequest, message, nil)
}

func requestID(w http.ResponseWriter, r *http.Request) string {
	if r != nil {
		if id := r.Header.Get(RequestIDHeader); id != "" {
			return id
		}
	}
	if w != nil {
		return w.Header().Get(RequestIDHeader)
	}
	return ""
}

func severityFor(statusCode int) gferrors.Severity {
	switch {
	case statusCode >= 500:
		return gferrors.SeverityHigh
	case statusCode >= 400:
		return gferrors.SeverityLow
	default:
		return gferrors.SeverityInfo
	}
}
