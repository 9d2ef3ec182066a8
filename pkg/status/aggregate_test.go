package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		children []Status
		want     Status
	}{
		{name: "running wins", children: []Status{Running, Succeeded}, want: Running},
		{name: "running wins over mixed", children: []Status{Failed, Running, Succeeded}, want: Running},
		{name: "mixed outcome", children: []Status{Succeeded, Failed}, want: Incomplete},
		{name: "all succeeded", children: []Status{Succeeded, Succeeded}, want: Succeeded},
		{name: "single failed", children: []Status{Failed}, want: Failed},
		{name: "single created", children: []Status{Created}, want: Created},
		{name: "no children", children: nil, want: Created},
		{name: "converging keeps first seen", children: []Status{Created, Succeeded}, want: Created},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.children))
		})
	}
}

func TestAggregateStrict(t *testing.T) {
	t.Run("reachable combinations are not flagged", func(t *testing.T) {
		got, err := AggregateStrict([]Status{Succeeded, Failed, Failed})
		require.NoError(t, err)
		assert.Equal(t, Incomplete, got)
	})

	t.Run("three distinct non-running statuses are flagged", func(t *testing.T) {
		got, err := AggregateStrict([]Status{Created, Succeeded, Failed})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInconsistentStatuses)
		assert.Equal(t, Incomplete, got)
	})

	t.Run("running short-circuits the check", func(t *testing.T) {
		got, err := AggregateStrict([]Status{Created, Running, Succeeded, Failed})
		require.NoError(t, err)
		assert.Equal(t, Running, got)
	})
}
