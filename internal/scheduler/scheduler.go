// Package scheduler decides when the next background refresh runs.
//
// Consumers are expected to poll the screenshot at a roughly constant
// period. Each request measures the gap since the previous one and arms a
// single timer so the next render, which takes about as long as the last
// one did, completes a margin before the next request is due:
//
//	delay = max(0, interval - lastRenderDuration - margin)
//
// A request that arrives while that timer is still pending means the
// prediction was wrong. The timer is cancelled and the refresh runs
// immediately instead.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"page-screenshot/internal/cache"
	"page-screenshot/internal/refresh"
)

// Refresher starts a render, or joins the one already running.
type Refresher interface {
	Trigger() <-chan refresh.Outcome
}

// Source exposes the state of the cache cell the scheduler reasons about.
type Source interface {
	Current() *cache.Frame
	LastDuration() time.Duration
}

// Scheduler owns the request timing state and the pending refresh timer.
// All methods are safe for concurrent use.
type Scheduler struct {
	refresher Refresher
	source    Source
	margin    time.Duration
	clock     Clock
	logger    *slog.Logger

	mu          sync.Mutex
	lastRequest time.Time
	seen        bool
	interval    time.Duration
	timer       Timer
	timerDelay  time.Duration
	gen         uint64
	stopped     bool
	mispredicts uint64
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// New creates a scheduler that triggers r, reading render timing from src.
func New(r Refresher, src Source, margin time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		refresher: r,
		source:    src,
		margin:    margin,
		clock:     realClock{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delay returns how long to wait before starting the next render so that it
// completes margin before a request expected interval from now.
func Delay(interval, render, margin time.Duration) time.Duration {
	d := interval - render - margin
	if d < 0 {
		return 0
	}
	return d
}

// Observe records a consumer request arriving now and re-arms the refresh
// timer. It never blocks on a render and returns the delay it armed.
func (s *Scheduler) Observe() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}

	now := s.clock.Now()
	took := s.source.LastDuration()

	// without a frame there is nothing to extrapolate from yet
	var delay time.Duration
	if s.source.Current() != nil {
		if !s.seen {
			s.lastRequest = now
			s.seen = true
		}
		s.interval = now.Sub(s.lastRequest)
		s.lastRequest = now
		delay = Delay(s.interval, took, s.margin)
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.mispredicts++
		s.logger.Warn("request arrived before scheduled refresh, try increasing the time margin",
			"ahead", (s.timerDelay - s.interval - took).String(),
			"scheduled", s.timerDelay.String(),
		)
		delay = 0
	}

	s.logger.Info("refresh scheduled",
		"interval", s.interval.String(),
		"duration", took.String(),
		"margin", s.margin.String(),
		"delay", delay.String(),
	)

	s.arm(delay)
	return delay
}

// arm installs the one pending timer. Callers hold s.mu and have already
// stopped any previous timer.
func (s *Scheduler) arm(delay time.Duration) {
	s.gen++
	gen := s.gen
	s.timerDelay = delay
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen) })
}

// fire runs when a timer expires. A timer whose generation is no longer
// current was cancelled after it had already started firing; it does nothing.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen || s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	s.refresher.Trigger()
}

// Pending reports the delay of the armed timer, if any.
func (s *Scheduler) Pending() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return 0, false
	}
	return s.timerDelay, true
}

// Interval returns the last measured gap between two requests.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Mispredictions returns how many requests arrived before their refresh.
func (s *Scheduler) Mispredictions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mispredicts
}

// Stop cancels the pending timer. Later calls to Observe are ignored.
// An in-flight render is not affected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
