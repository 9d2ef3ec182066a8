// Package poller runs an action repeatedly at a fixed period until stopped.
//
// A Poller owns at most one polling session at a time. Starting an active
// poller is a no-op, and once Stop returns no invocation of the previous
// session's action will begin.
package poller

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

// DefaultPeriod is used when Start is given a non-positive period.
const DefaultPeriod = 3 * time.Second

// ErrStop ends the current session when returned by an action.
//
// An action must return ErrStop instead of calling Stop on its own poller:
// Stop waits for the session goroutine, which is the one running the action.
var ErrStop = errors.New("poller: stop requested")

// Action is one poll tick. The context is cancelled when the session stops.
type Action func(ctx context.Context) error

// Config configures a Poller.
type Config struct {
	// Name identifies the poller in log output.
	Name string

	// Logger receives tick failures. Default: no-op logger.
	Logger *zap.Logger

	// Clock drives the ticker. Default: the real clock.
	Clock clock.WithTicker

	// MaxBackoff caps the exponential backoff applied after consecutive
	// failures. Zero keeps a fixed cadence regardless of failures.
	MaxBackoff time.Duration

	// StallAfter is the number of consecutive failures after which the
	// poller reports itself stalled. Zero disables stall detection.
	StallAfter int

	// OnStall is called once when the poller becomes stalled.
	OnStall func(err error)

	// OnRecover is called on the first success after a stall.
	OnRecover func()
}

// Poller is a cancellable repeating timer.
//
// Poller is safe for concurrent use.
type Poller struct {
	cfg Config

	mu      sync.Mutex
	session *session

	ticks    atomic.Int64 // action invocations
	received atomic.Int64 // clock ticks consumed, including skipped ones
	stalled  atomic.Bool
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an inactive poller.
func New(cfg Config) *Poller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.MaxBackoff < 0 {
		cfg.MaxBackoff = 0
	}
	if cfg.StallAfter < 0 {
		cfg.StallAfter = 0
	}
	return &Poller{cfg: cfg}
}

// Start begins a session that invokes action immediately and then once per
// period. It returns false, doing nothing, when a session is already active.
//
// The session ends when Stop is called, when ctx is cancelled, or when the
// action returns ErrStop.
func (p *Poller) Start(ctx context.Context, period time.Duration, action Action) bool {
	if period <= 0 {
		period = DefaultPeriod
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return false
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, done: make(chan struct{})}
	p.session = s
	p.stalled.Store(false)

	// The ticker is created before Start returns so that the cadence is
	// anchored at Start, not at whenever the goroutine gets scheduled.
	ticker := p.cfg.Clock.NewTicker(period)
	go p.run(sctx, s, ticker, period, action)
	return true
}

// Stop ends the active session, if any, and waits for its goroutine to
// exit. An in-flight action sees its context cancelled.
func (p *Poller) Stop() {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Active reports whether a session is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

// Stalled reports whether consecutive failures crossed StallAfter.
func (p *Poller) Stalled() bool {
	return p.stalled.Load()
}

// Ticks returns the number of action invocations across all sessions.
func (p *Poller) Ticks() int64 {
	return p.ticks.Load()
}

func (p *Poller) run(ctx context.Context, s *session, ticker clock.Ticker, period time.Duration, action Action) {
	defer close(s.done)
	defer p.release(s)
	defer ticker.Stop()

	log := p.cfg.Logger.With(zap.String("poller", p.cfg.Name))

	var (
		failures int
		skip     int
		backoff  = p.newBackoff(period)
	)

	invoke := func() bool {
		p.ticks.Add(1)
		err := action(ctx)

		switch {
		case err == nil:
			if p.stalled.CompareAndSwap(true, false) {
				log.Info("Polling recovered", zap.Int("failures", failures))
				if p.cfg.OnRecover != nil {
					p.cfg.OnRecover()
				}
			}
			failures = 0
			skip = 0
			backoff = p.newBackoff(period)
			return true

		case errors.Is(err, ErrStop):
			return false

		case ctx.Err() != nil:
			// Stopped mid-flight; whatever the action saw is discarded.
			return false
		}

		failures++
		if p.cfg.MaxBackoff > 0 {
			skip = int(backoff.Step()/period) - 1
			if skip < 0 {
				skip = 0
			}
		}
		log.Warn("Poll tick failed",
			zap.Int("consecutive_failures", failures),
			zap.Int("skip_ticks", skip),
			zap.Error(err))

		if p.cfg.StallAfter > 0 && failures == p.cfg.StallAfter {
			p.stalled.Store(true)
			log.Error("Polling stalled", zap.Int("consecutive_failures", failures), zap.Error(err))
			if p.cfg.OnStall != nil {
				p.cfg.OnStall(err)
			}
		}
		return true
	}

	if !invoke() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.received.Add(1)
			if ctx.Err() != nil {
				return
			}
			if skip > 0 {
				skip--
				continue
			}
			if !invoke() {
				return
			}
		}
	}
}

// release clears the session if it is still the current one, so a poller
// that stopped itself can be started again.
func (p *Poller) release(s *session) {
	s.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == s {
		p.session = nil
	}
}

func (p *Poller) newBackoff(period time.Duration) *wait.Backoff {
	return &wait.Backoff{
		Duration: period,
		Factor:   2,
		Steps:    math.MaxInt32,
		Cap:      p.cfg.MaxBackoff,
	}
}
