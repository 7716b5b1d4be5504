package scheduler

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"page-screenshot/internal/cache"
	"page-screenshot/internal/refresh"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock only fires timers when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// Active counts timers that are armed and have neither fired nor been stopped.
func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) Last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

// fakeRefresher renders instantly in fake time but records a fixed duration.
type fakeRefresher struct {
	cell  *cache.Cell
	clock *fakeClock

	mu       sync.Mutex
	took     time.Duration
	triggers int
}

func (r *fakeRefresher) Trigger() <-chan refresh.Outcome {
	r.mu.Lock()
	r.triggers++
	took := r.took
	r.mu.Unlock()

	at := r.clock.Now()
	png := []byte("png")
	r.cell.Publish(&cache.Frame{PNG: png, UpdatedAt: at}, took)

	ch := make(chan refresh.Outcome, 1)
	ch <- refresh.Outcome{Image: png, Duration: took, At: at}
	return ch
}

func (r *fakeRefresher) Triggers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggers
}

type fixture struct {
	clock *fakeClock
	cell  *cache.Cell
	ref   *fakeRefresher
	sched *Scheduler
}

func newFixture(took, margin time.Duration, logger *slog.Logger) *fixture {
	clock := newFakeClock()
	cell := &cache.Cell{}
	ref := &fakeRefresher{cell: cell, clock: clock, took: took}
	return &fixture{
		clock: clock,
		cell:  cell,
		ref:   ref,
		sched: New(ref, cell, margin, logger, WithClock(clock)),
	}
}

// prime runs the first two requests so the next Observe measures a real interval.
func (f *fixture) prime(t *testing.T, interval time.Duration) {
	t.Helper()
	f.sched.Observe()
	f.clock.Advance(0)
	f.clock.Advance(interval)
	if d := f.sched.Observe(); d != 0 {
		t.Fatalf("second Observe() = %v, want 0", d)
	}
	f.clock.Advance(0)
	f.clock.Advance(interval)
}

func TestDelay(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		render   time.Duration
		margin   time.Duration
		want     time.Duration
	}{
		{name: "room to spare", interval: 60 * time.Second, render: 8 * time.Second, margin: 10 * time.Second, want: 42 * time.Second},
		{name: "exact fit", interval: 10 * time.Second, render: 7 * time.Second, margin: 3 * time.Second, want: 0},
		{name: "render slower than interval", interval: 10 * time.Second, render: 20 * time.Second, margin: 3 * time.Second, want: 0},
		{name: "margin larger than interval", interval: 5 * time.Second, render: 0, margin: 10 * time.Second, want: 0},
		{name: "no margin", interval: 10 * time.Second, render: 0, margin: 0, want: 10 * time.Second},
		{name: "zero interval", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Delay(tt.interval, tt.render, tt.margin); got != tt.want {
				t.Errorf("Delay(%v, %v, %v) = %v, want %v", tt.interval, tt.render, tt.margin, got, tt.want)
			}
		})
	}
}

func TestScheduler_FirstRequestRefreshesImmediately(t *testing.T) {
	f := newFixture(2*time.Second, 3*time.Second, testLogger())

	if d := f.sched.Observe(); d != 0 {
		t.Fatalf("Observe() without image = %v, want 0", d)
	}
	if d, ok := f.sched.Pending(); !ok || d != 0 {
		t.Fatalf("Pending() = (%v, %v), want (0, true)", d, ok)
	}
	if f.ref.Triggers() != 0 {
		t.Fatal("refresh ran before the timer fired")
	}

	f.clock.Advance(0)

	if f.ref.Triggers() != 1 {
		t.Errorf("triggers = %d, want 1", f.ref.Triggers())
	}
	if _, ok := f.sched.Pending(); ok {
		t.Error("timer still pending after firing")
	}
	if f.cell.Current() == nil {
		t.Error("no frame after first refresh")
	}
}

// Without an image the interval is not measured, so the second request
// (the first one with an image) starts the measurement at zero.
func TestScheduler_IntervalStartsWithFirstImage(t *testing.T) {
	f := newFixture(2*time.Second, 3*time.Second, testLogger())

	f.sched.Observe()
	f.clock.Advance(30 * time.Second)

	if d := f.sched.Observe(); d != 0 {
		t.Errorf("Observe() = %v, want 0", d)
	}
	if got := f.sched.Interval(); got != 0 {
		t.Errorf("Interval() = %v, want 0", got)
	}
}

func TestScheduler_ConvergesToSteadyState(t *testing.T) {
	const (
		interval = 10 * time.Second
		took     = 2 * time.Second
		margin   = 3 * time.Second
		want     = interval - took - margin
	)
	f := newFixture(took, margin, testLogger())
	f.prime(t, interval)

	for cycle := 0; cycle < 5; cycle++ {
		d := f.sched.Observe()
		if d != want {
			t.Fatalf("cycle %d: Observe() = %v, want %v", cycle, d, want)
		}
		if got := f.sched.Interval(); got != interval {
			t.Errorf("cycle %d: Interval() = %v, want %v", cycle, got, interval)
		}

		before := f.ref.Triggers()
		f.clock.Advance(want)
		if f.ref.Triggers() != before+1 {
			t.Fatalf("cycle %d: refresh did not fire after %v", cycle, want)
		}
		f.clock.Advance(interval - want)
	}

	if n := f.sched.Mispredictions(); n != 0 {
		t.Errorf("Mispredictions() = %d, want 0", n)
	}
}

func TestScheduler_MispredictionForcesImmediateRefresh(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	f := newFixture(2*time.Second, 3*time.Second, logger)
	f.prime(t, 10*time.Second)

	if d := f.sched.Observe(); d != 5*time.Second {
		t.Fatalf("Observe() = %v, want 5s", d)
	}
	stale := f.clock.Last()
	triggers := f.ref.Triggers()

	// the consumer comes back early, before the scheduled refresh
	f.clock.Advance(2 * time.Second)
	if d := f.sched.Observe(); d != 0 {
		t.Fatalf("early Observe() = %v, want 0", d)
	}

	if !stale.stopped {
		t.Error("pending timer was not cancelled")
	}
	if n := f.clock.Active(); n != 1 {
		t.Errorf("active timers = %d, want 1", n)
	}
	if n := f.sched.Mispredictions(); n != 1 {
		t.Errorf("Mispredictions() = %d, want 1", n)
	}

	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, "request arrived before scheduled refresh") {
		t.Errorf("missing misprediction warning in log:\n%s", out)
	}
	// scheduled 5s, observed 2s, render 2s
	if !strings.Contains(out, `"ahead":"1s"`) {
		t.Errorf("warning does not report the 1s misprediction:\n%s", out)
	}

	f.clock.Advance(0)
	if f.ref.Triggers() != triggers+1 {
		t.Errorf("triggers = %d, want %d", f.ref.Triggers(), triggers+1)
	}

	// the cancelled timer's deadline passes without a second refresh
	f.clock.Advance(10 * time.Second)
	if f.ref.Triggers() != triggers+1 {
		t.Errorf("cancelled timer fired: triggers = %d, want %d", f.ref.Triggers(), triggers+1)
	}
}

func TestScheduler_SlowRenderClampsToZero(t *testing.T) {
	f := newFixture(20*time.Second, 3*time.Second, testLogger())
	f.prime(t, 10*time.Second)

	if d := f.sched.Observe(); d != 0 {
		t.Errorf("Observe() = %v, want 0", d)
	}
}

func TestScheduler_AtMostOnePendingTimer(t *testing.T) {
	f := newFixture(time.Second, 2*time.Second, testLogger())

	gaps := []time.Duration{0, 10, 3, 10, 10, 1, 0, 7, 20, 2, 2, 15}
	for i, g := range gaps {
		f.clock.Advance(g * time.Second)
		f.sched.Observe()
		if n := f.clock.Active(); n > 1 {
			t.Fatalf("step %d: %d timers armed, want at most 1", i, n)
		}
		f.clock.Advance(time.Second)
		if n := f.clock.Active(); n > 1 {
			t.Fatalf("step %d: %d timers armed after advance, want at most 1", i, n)
		}
	}
}

// A timer whose callback was already running when it got cancelled must
// behave as cancelled: no refresh, and the replacement timer stays armed.
func TestScheduler_CancelledTimerFiringLate(t *testing.T) {
	f := newFixture(2*time.Second, 3*time.Second, testLogger())
	f.prime(t, 10*time.Second)

	f.sched.Observe()
	stale := f.clock.Last()

	f.clock.Advance(time.Second)
	f.sched.Observe()
	replacement, ok := f.sched.Pending()

	triggers := f.ref.Triggers()
	stale.f()

	if f.ref.Triggers() != triggers {
		t.Error("cancelled timer triggered a refresh")
	}
	if d, ok2 := f.sched.Pending(); !ok || !ok2 || d != replacement {
		t.Errorf("Pending() = (%v, %v), want (%v, true)", d, ok2, replacement)
	}
}

func TestScheduler_Stop(t *testing.T) {
	f := newFixture(time.Second, time.Second, testLogger())

	f.sched.Observe()
	f.sched.Stop()
	f.clock.Advance(time.Minute)

	if f.ref.Triggers() != 0 {
		t.Errorf("triggers after Stop = %d, want 0", f.ref.Triggers())
	}
	if _, ok := f.sched.Pending(); ok {
		t.Error("timer pending after Stop")
	}

	f.sched.Observe()
	if n := f.clock.Active(); n != 0 {
		t.Errorf("Observe after Stop armed %d timers", n)
	}
}

type countingRefresher struct {
	mu sync.Mutex
	n  int
}

func (r *countingRefresher) Trigger() <-chan refresh.Outcome {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
	ch := make(chan refresh.Outcome, 1)
	ch <- refresh.Outcome{}
	return ch
}

// Run with -race: concurrent requests against the real clock.
func TestScheduler_ConcurrentObserve(t *testing.T) {
	cell := &cache.Cell{}
	cell.Publish(&cache.Frame{PNG: []byte("png"), UpdatedAt: time.Now()}, time.Millisecond)
	s := New(&countingRefresher{}, cell, time.Millisecond, testLogger())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Observe()
				s.Pending()
			}
		}()
	}
	wg.Wait()
	s.Stop()

	if _, ok := s.Pending(); ok {
		t.Error("timer pending after Stop")
	}
}
