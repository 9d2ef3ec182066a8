package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

const (
	period  = 3 * time.Second
	waitFor = 2 * time.Second
	pollDur = 5 * time.Millisecond
)

func newTestPoller(t *testing.T, cfg Config) (*Poller, *testingclock.FakeClock) {
	t.Helper()
	fc := testingclock.NewFakeClock(time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC))
	cfg.Clock = fc
	p := New(cfg)
	t.Cleanup(p.Stop)
	return p, fc
}

// step advances the fake clock by one period and waits until the poller
// goroutine has consumed the tick.
func step(t *testing.T, p *Poller, fc *testingclock.FakeClock) {
	t.Helper()
	before := p.received.Load()
	fc.Step(period)
	require.Eventually(t, func() bool { return p.received.Load() > before }, waitFor, pollDur)
}

func counting(calls *atomic.Int64) Action {
	return func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}
}

func TestPoller_StartInvokesImmediately(t *testing.T) {
	p, _ := newTestPoller(t, Config{Name: "test"})
	var calls atomic.Int64

	require.True(t, p.Start(context.Background(), period, counting(&calls)))
	assert.True(t, p.Active())
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, pollDur)
}

func TestPoller_IdempotentStart(t *testing.T) {
	p, fc := newTestPoller(t, Config{Name: "test"})
	var first, second atomic.Int64

	require.True(t, p.Start(context.Background(), period, counting(&first)))
	assert.False(t, p.Start(context.Background(), period, counting(&second)))

	require.Eventually(t, func() bool { return first.Load() == 1 }, waitFor, pollDur)
	step(t, p, fc)
	require.Eventually(t, func() bool { return first.Load() == 2 }, waitFor, pollDur)
	step(t, p, fc)
	require.Eventually(t, func() bool { return first.Load() == 3 }, waitFor, pollDur)

	assert.Never(t, func() bool { return first.Load() > 3 }, 50*time.Millisecond, pollDur)
	assert.Equal(t, int64(0), second.Load(), "second Start must not schedule its action")
}

func TestPoller_CleanStop(t *testing.T) {
	p, fc := newTestPoller(t, Config{Name: "test"})
	var calls atomic.Int64

	require.True(t, p.Start(context.Background(), period, counting(&calls)))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, pollDur)

	p.Stop()
	assert.False(t, p.Active())

	for i := 0; i < 5; i++ {
		fc.Step(period)
	}
	assert.Never(t, func() bool { return calls.Load() != 1 }, 50*time.Millisecond, pollDur)
}

func TestPoller_StopWhenInactiveIsNoop(t *testing.T) {
	p, _ := newTestPoller(t, Config{Name: "test"})
	assert.NotPanics(t, p.Stop)
	assert.False(t, p.Active())
}

func TestPoller_FailuresDoNotStopLoop(t *testing.T) {
	p, fc := newTestPoller(t, Config{Name: "test"})
	var calls atomic.Int64

	require.True(t, p.Start(context.Background(), period, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("connection refused")
	}))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, pollDur)
	for i := 2; i <= 4; i++ {
		step(t, p, fc)
		want := int64(i)
		require.Eventually(t, func() bool { return calls.Load() == want }, waitFor, pollDur)
	}
	assert.True(t, p.Active())
	assert.False(t, p.Stalled(), "stall detection is disabled by default")
}

func TestPoller_ActionSelfStops(t *testing.T) {
	p, fc := newTestPoller(t, Config{Name: "test"})
	var calls atomic.Int64

	require.True(t, p.Start(context.Background(), period, func(ctx context.Context) error {
		if calls.Add(1) == 2 {
			return ErrStop
		}
		return nil
	}))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, pollDur)
	step(t, p, fc)
	require.Eventually(t, func() bool { return !p.Active() }, waitFor, pollDur)

	for i := 0; i < 3; i++ {
		fc.Step(period)
	}
	assert.Never(t, func() bool { return calls.Load() != 2 }, 50*time.Millisecond, pollDur)
}

func TestPoller_RestartAfterStop(t *testing.T) {
	p, _ := newTestPoller(t, Config{Name: "test"})
	var a, b atomic.Int64

	require.True(t, p.Start(context.Background(), period, counting(&a)))
	require.Eventually(t, func() bool { return a.Load() == 1 }, waitFor, pollDur)
	p.Stop()

	require.True(t, p.Start(context.Background(), period, counting(&b)))
	require.Eventually(t, func() bool { return b.Load() == 1 }, waitFor, pollDur)
	assert.Equal(t, int64(1), a.Load())
	assert.Equal(t, int64(2), p.Ticks())
}

func TestPoller_StopCancelsInFlightAction(t *testing.T) {
	p, _ := newTestPoller(t, Config{Name: "test"})
	entered := make(chan struct{})
	var sawCancel atomic.Bool

	require.True(t, p.Start(context.Background(), period, func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}))

	<-entered
	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return while an action was in flight")
	}
	assert.True(t, sawCancel.Load())
	assert.False(t, p.Active())
}

func TestPoller_ParentContextEndsSession(t *testing.T) {
	p, _ := newTestPoller(t, Config{Name: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64

	require.True(t, p.Start(ctx, period, counting(&calls)))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, pollDur)

	cancel()
	assert.Eventually(t, func() bool { return !p.Active() }, waitFor, pollDur)
}

func TestPoller_BackoffSkipsTicks(t *testing.T) {
	p, fc := newTestPoller(t, Config{Name: "test", MaxBackoff: 4 * period})
	var calls atomic.Int64

	require.True(t, p.Start(context.Background(), period, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("503 service unavailable")
	}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, pollDur)

	// Delays grow period, 2*period, 4*period, then stay capped at 4*period.
	// Each tick either invokes (1) or is skipped (0).
	pattern := []int64{1, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}
	want := calls.Load()
	for i, invoked := range pattern {
		step(t, p, fc)
		want += invoked
		expected := want
		require.Eventually(t, func() bool { return calls.Load() == expected }, waitFor, pollDur, "tick %d", i)
	}
}

func TestPoller_BackoffResetsAfterSuccess(t *testing.T) {
	p, fc := newTestPoller(t, Config{Name: "test", MaxBackoff: 4 * period})
	var calls atomic.Int64
	var failing atomic.Bool
	failing.Store(true)

	require.True(t, p.Start(context.Background(), period, func(ctx context.Context) error {
		calls.Add(1)
		if failing.Load() {
			return errors.New("timeout")
		}
		return nil
	}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, pollDur)

	step(t, p, fc) // second failure: next delay is 2*period
	require.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, pollDur)
	failing.Store(false)

	step(t, p, fc) // skipped
	assert.Equal(t, int64(2), calls.Load())
	step(t, p, fc) // succeeds
	require.Eventually(t, func() bool { return calls.Load() == 3 }, waitFor, pollDur)
	step(t, p, fc) // back on the fixed cadence
	require.Eventually(t, func() bool { return calls.Load() == 4 }, waitFor, pollDur)
}

func TestPoller_StallAndRecover(t *testing.T) {
	var stalls, recoveries atomic.Int64
	p, fc := newTestPoller(t, Config{
		Name:       "test",
		StallAfter: 2,
		OnStall:    func(error) { stalls.Add(1) },
		OnRecover:  func() { recoveries.Add(1) },
	})
	var calls atomic.Int64
	var failing atomic.Bool
	failing.Store(true)

	require.True(t, p.Start(context.Background(), period, func(ctx context.Context) error {
		calls.Add(1)
		if failing.Load() {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, pollDur)
	assert.False(t, p.Stalled())

	step(t, p, fc)
	require.Eventually(t, p.Stalled, waitFor, pollDur)

	step(t, p, fc)
	require.Eventually(t, func() bool { return calls.Load() == 3 }, waitFor, pollDur)
	assert.Equal(t, int64(1), stalls.Load(), "OnStall fires once per stall")

	failing.Store(false)
	step(t, p, fc)
	require.Eventually(t, func() bool { return !p.Stalled() }, waitFor, pollDur)
	assert.Equal(t, int64(1), recoveries.Load())
	assert.True(t, p.Active())
}
