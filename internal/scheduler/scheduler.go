// Package scheduler provides a wall-clock synchronized periodic wait that
// backs off under sustained downstream failure.
package scheduler

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
)

const DefaultFailureTolerance = 3

// Config describes the cadence of a Scheduler.
type Config struct {
	// MinPeriod is the base period and the alignment grid.
	MinPeriod time.Duration
	// MaxPeriod caps backoff. Zero means MinPeriod.
	MaxPeriod time.Duration
	// PhaseOffset shifts the alignment grid.
	PhaseOffset time.Duration
	// FailureTolerance is the number of consecutive failures accepted before
	// the period starts doubling.
	FailureTolerance int
}

// Validate checks the period bounds.
func (c Config) Validate() error {
	errFactory := errors.New()

	if c.MinPeriod <= 0 {
		return errFactory.WithData(ErrInvalidPeriod, c.MinPeriod)
	}
	if c.MaxPeriod != 0 && c.MaxPeriod < c.MinPeriod {
		return errFactory.WithData(ErrInvalidBounds, struct {
			MinPeriod time.Duration
			MaxPeriod time.Duration
		}{
			MinPeriod: c.MinPeriod,
			MaxPeriod: c.MaxPeriod,
		})
	}
	if c.FailureTolerance < 0 {
		return errFactory.WithData(ErrInvalidTolerance, c.FailureTolerance)
	}
	return nil
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// Scheduler blocks until the next multiple of MinPeriod (shifted by
// PhaseOffset). Wait and Cancel may be called from different goroutines;
// Reset must not overlap a Wait.
type Scheduler struct {
	clock Clock

	minPeriod time.Duration
	maxPeriod time.Duration
	offset    time.Duration
	tolerance int

	mu        sync.Mutex
	period    time.Duration
	failures  int
	cancelled bool
	done      chan struct{}
}

// New creates a Scheduler. MaxPeriod below MinPeriod is a configuration error.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	maxPeriod := cfg.MaxPeriod
	if maxPeriod == 0 {
		maxPeriod = cfg.MinPeriod
	}

	s := &Scheduler{
		clock:     SystemClock(),
		minPeriod: cfg.MinPeriod,
		maxPeriod: maxPeriod,
		offset:    cfg.PhaseOffset,
		tolerance: cfg.FailureTolerance,
		period:    cfg.MinPeriod,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// NewAligned creates a Scheduler whose phase offset is the current wall time
// modulo MinPeriod, so wakeups fall on multiples of the period counted from
// construction. cfg.PhaseOffset is ignored.
func NewAligned(cfg Config, opts ...Option) (*Scheduler, error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	s.offset = mod(time.Duration(s.clock.Now().UnixNano()), s.minPeriod)

	return s, nil
}

// Wait records the outcome of the previous iteration, then blocks until the
// next aligned wake time. It returns false if the scheduler was cancelled
// before or during the wait, or if ctx is done.
func (s *Scheduler) Wait(ctx context.Context, success bool) bool {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return false
	}
	d := s.advance(success)
	done := s.done
	failures := s.failures
	period := s.period
	s.mu.Unlock()

	logger.Debug().
		Dur("sleep", d).
		Dur("period", period).
		Int("failures", failures).
		Msg("Waiting for next period")

	select {
	case <-s.clock.After(d):
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.cancelled
	case <-done:
		return false
	case <-ctx.Done():
		return false
	}
}

// advance applies the backoff rule and returns the sleep duration.
func (s *Scheduler) advance(success bool) time.Duration {
	if success {
		s.failures = 0
		s.period = s.minPeriod
	} else {
		s.failures++
		if s.failures > s.tolerance && s.period*2 <= s.maxPeriod {
			s.period *= 2
			logger.Info().
				Dur("period", s.period).
				Int("failures", s.failures).
				Msg("Backing off")
		}
	}

	return s.sleepDuration(s.clock.Now())
}

// sleepDuration keeps the alignment grid on minPeriod even while backed off.
func (s *Scheduler) sleepDuration(now time.Time) time.Duration {
	elapsed := time.Duration(now.UnixNano()) - s.offset
	return s.period - mod(elapsed, s.minPeriod)
}

// Cancel stops the scheduler and releases an in-flight Wait immediately.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return
	}
	s.cancelled = true
	close(s.done)
}

// Reset clears cancellation and backoff state.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelled = false
	s.failures = 0
	s.period = s.minPeriod
	s.done = make(chan struct{})
}

// State is a snapshot of the scheduler for inspection.
type State struct {
	MinPeriod        time.Duration
	MaxPeriod        time.Duration
	CurrentPeriod    time.Duration
	PhaseOffset      time.Duration
	Failures         int
	FailureTolerance int
	Cancelled        bool
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		MinPeriod:        s.minPeriod,
		MaxPeriod:        s.maxPeriod,
		CurrentPeriod:    s.period,
		PhaseOffset:      s.offset,
		Failures:         s.failures,
		FailureTolerance: s.tolerance,
		Cancelled:        s.cancelled,
	}
}

func mod(d, m time.Duration) time.Duration {
	r := d % m
	if r < 0 {
		r += m
	}
	return r
}
