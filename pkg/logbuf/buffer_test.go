package logbuf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_Ingest(t *testing.T) {
	tests := []struct {
		name   string
		polls  []string
		want   []string
		latest []string
	}{
		{
			name:   "repeated snapshot appends nothing",
			polls:  []string{"a\nb", "a\nb"},
			want:   []string{"a", "b"},
			latest: []string{},
		},
		{
			name:   "non-adjacent repeat is kept",
			polls:  []string{"a\nb", "c\nb"},
			want:   []string{"a", "b", "c", "b"},
			latest: []string{"c", "b"},
		},
		{
			name:   "growing log appends only the tail",
			polls:  []string{"a\nb", "a\nb\nc", "a\nb\nc\nd"},
			want:   []string{"a", "b", "c", "d"},
			latest: []string{"d"},
		},
		{
			name:   "trailing partial line is completed",
			polls:  []string{"a\nprog", "a\nprogress 50%"},
			want:   []string{"a", "prog", "progress 50%"},
			latest: []string{"progress 50%"},
		},
		{
			name:   "terminating newline does not add an empty line",
			polls:  []string{"a\nb\n", "a\nb\nc\n"},
			want:   []string{"a", "b", "c"},
			latest: []string{"c"},
		},
		{
			name:   "empty text is ignored",
			polls:  []string{"", "a", ""},
			want:   []string{"a"},
			latest: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(0)
			var last []string
			for _, p := range tt.polls {
				last = b.Ingest(p)
			}
			assert.Equal(t, tt.want, b.Lines())
			if tt.latest == nil {
				assert.Empty(t, last)
			} else {
				assert.Equal(t, tt.latest, last)
			}
		})
	}
}

// The immediate-repeat rule also collapses genuinely repeated adjacent lines
// inside one poll ("retry\nretry"). This mirrors how the backend's log tail
// has always been rendered; it is not a general de-duplication.
func TestBuffer_ImmediateRepeatWithinSnapshotCollapses(t *testing.T) {
	b := New(0)
	b.Ingest("retry\nretry\ndone")
	assert.Equal(t, []string{"retry", "done"}, b.Lines())
}

func TestBuffer_RotatedLogIsAppendedInFull(t *testing.T) {
	b := New(0)
	b.Ingest("a\nb\nc")
	got := b.Ingest("x")
	assert.Equal(t, []string{"x"}, got)
	assert.Equal(t, []string{"a", "b", "c", "x"}, b.Lines())
}

func TestBuffer_Reset(t *testing.T) {
	b := New(0)
	b.Ingest("a\nb")
	require.Equal(t, 2, b.Len())

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Lines())

	// The previous snapshot is forgotten too, so the same text is new again.
	b.Ingest("a\nb")
	assert.Equal(t, []string{"a", "b"}, b.Lines())
}

func TestBuffer_Limit(t *testing.T) {
	b := New(2)
	b.Ingest("1\n2\n3")
	assert.Equal(t, []string{"2", "3"}, b.Lines())

	b.Ingest("1\n2\n3\n4")
	assert.Equal(t, []string{"3", "4"}, b.Lines())
}

func TestBuffer_LinesReturnsCopy(t *testing.T) {
	b := New(0)
	b.Ingest("a")
	lines := b.Lines()
	lines[0] = "mutated"
	assert.Equal(t, []string{"a"}, b.Lines())
}

func TestBuffer_ConcurrentIngest(t *testing.T) {
	b := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Ingest("a\nb")
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"a", "b"}, b.Lines())
}
