package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/lumitrack/internal/errors"
	"github.com/3leaps/lumitrack/pkg/lumigator"
	"github.com/3leaps/lumitrack/pkg/tracker"
)

func putSelection(body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/selection", strings.NewReader(body))
	// The kind is rejected before the tracker is consulted.
	NewTrackerHandlers(nil).PutSelection(rec, req)
	return rec
}

func TestPutSelection_UnknownKindUsesResponder(t *testing.T) {
	t.Cleanup(ResetHTTPErrorResponder)

	var got error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	})

	rec := putSelection(`{"kind":"dataset","id":"d1"}`)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.ErrorIs(t, got, tracker.ErrUnknownKind)
}

func TestPutSelection_DefaultResponder(t *testing.T) {
	rec := putSelection(`{"kind":"dataset","id":"d1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeInvalidRequest, body.Error.Code)
	assert.Contains(t, body.Error.Message, `"dataset"`)
}

func TestSetHTTPErrorResponder_NilRestoresDefault(t *testing.T) {
	t.Cleanup(ResetHTTPErrorResponder)

	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusTeapot)
	})
	SetHTTPErrorResponder(nil)

	tests := []struct {
		err  error
		want int
	}{
		{lumigator.ErrNotFound, http.StatusNotFound},
		{lumigator.ErrServerError, http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		respondWithError(rec, httptest.NewRequest(http.MethodGet, "/jobs/j1", nil), tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}
