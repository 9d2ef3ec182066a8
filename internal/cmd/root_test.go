package cmd

import (
	"errors"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		SetVersionInfo(origVersion, origCommit, origBuildDate)
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		assert.Nil(t, GetAppIdentity())
	})

	t.Run("returns identity after set", func(t *testing.T) {
		if appIdentity != nil {
			result := GetAppIdentity()
			assert.NotNil(t, result)
			assert.Equal(t, appIdentity, result)
		}
	})
}

func TestRuntimeOverrides(t *testing.T) {
	origAPI, origLevel := apiOverride, logLevel
	defer func() { apiOverride, logLevel = origAPI, origLevel }()

	apiOverride, logLevel = "", ""
	assert.Empty(t, runtimeOverrides())

	apiOverride = "http://backend:8000/api/v1"
	logLevel = "debug"
	got := runtimeOverrides()
	assert.Equal(t, map[string]any{"base_url": "http://backend:8000/api/v1"}, got["api"])
	assert.Equal(t, map[string]any{"level": "debug"}, got["logging"])
}

func TestExitError(t *testing.T) {
	cause := errors.New("connection refused")
	err := exitError(foundry.ExitExternalServiceUnavailable, "list jobs", cause)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, exitErr.Code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "list jobs: connection refused")
}
