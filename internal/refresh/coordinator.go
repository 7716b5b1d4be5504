// Package refresh runs page renders in the background and publishes their
// output into the cache cell, never more than one at a time.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"page-screenshot/internal/cache"
)

// refreshKey is the single-flight key. There is only one page, so every
// trigger shares it.
const refreshKey = "page"

// ErrEmptyScreenshot is recorded when the renderer succeeds without bytes.
var ErrEmptyScreenshot = errors.New("renderer returned an empty screenshot")

// Renderer produces a PNG screenshot of the configured page.
type Renderer interface {
	Render(ctx context.Context) ([]byte, error)
}

// Converter derives the e-paper rendition of a freshly rendered PNG.
type Converter interface {
	Convert(png []byte, at time.Time) ([]byte, error)
}

// Outcome describes one finished render.
type Outcome struct {
	// ID identifies the render in logs.
	ID string

	// Image is the PNG produced, nil when the render failed.
	Image []byte

	// Duration is the wall time from start to completion.
	Duration time.Duration

	// At is the completion time.
	At time.Time

	// Err is the render error, if any.
	Err error
}

// Coordinator owns the in-flight render. Concurrent triggers while a render
// runs join that render instead of starting another one.
type Coordinator struct {
	renderer  Renderer
	converter Converter
	cell      *cache.Cell
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time

	ctx      context.Context
	group    singleflight.Group
	inFlight atomic.Bool
	renders  atomic.Uint64
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithConverter publishes an e-paper rendition next to every PNG.
func WithConverter(cv Converter) Option {
	return func(c *Coordinator) {
		c.converter = cv
	}
}

// WithTimeout bounds each render. Zero leaves renders unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a coordinator. Renders started by it run under ctx, so
// cancelling ctx aborts the in-flight render on shutdown.
func New(ctx context.Context, r Renderer, cell *cache.Cell, logger *slog.Logger, opts ...Option) *Coordinator {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Coordinator{
		renderer: r,
		cell:     cell,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger starts a render unless one is already running, and returns a
// channel that receives the outcome of the render the caller joined. The
// channel is buffered; callers that don't care may drop it.
func (c *Coordinator) Trigger() <-chan Outcome {
	res := c.group.DoChan(refreshKey, func() (any, error) {
		return c.run(), nil
	})

	out := make(chan Outcome, 1)
	go func() {
		r := <-res
		out <- r.Val.(Outcome)
	}()
	return out
}

// InFlight reports whether a render is currently executing.
func (c *Coordinator) InFlight() bool {
	return c.inFlight.Load()
}

// Renders returns the number of renders started so far.
func (c *Coordinator) Renders() uint64 {
	return c.renders.Load()
}

func (c *Coordinator) run() Outcome {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)
	c.renders.Add(1)

	id := uuid.NewString()
	log := c.logger.With("render_id", id)
	start := c.now()

	ctx := c.ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log.Info("render started")
	png, err := c.renderer.Render(ctx)
	if err == nil && len(png) == 0 {
		err = ErrEmptyScreenshot
	}
	if err != nil {
		at := c.now()
		took := at.Sub(start)
		err = fmt.Errorf("render %s: %w", id, err)
		log.Error("render failed", "error", err, "duration", took.String())
		c.cell.Fail(err, took, at)
		return Outcome{ID: id, Duration: took, At: at, Err: err}
	}

	frame := &cache.Frame{PNG: png}
	if c.converter != nil {
		bmp, cerr := c.converter.Convert(png, c.now())
		if cerr != nil {
			log.Error("e-paper conversion failed", "error", cerr)
		} else {
			frame.BMP = bmp
		}
	}

	at := c.now()
	took := at.Sub(start)
	frame.UpdatedAt = at
	c.cell.Publish(frame, took)

	log.Info("render done", "duration", took.String(), "bytes", len(png))
	return Outcome{ID: id, Image: png, Duration: took, At: at}
}
