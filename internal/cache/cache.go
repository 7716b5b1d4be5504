// Package cache holds the single screenshot frame served over HTTP together
// with the bookkeeping of the render that produced it.
package cache

import (
	"sync"
	"time"
)

// Frame is one complete, published screenshot.
type Frame struct {
	// PNG is the screenshot as returned by the renderer.
	PNG []byte

	// BMP is the optional 1-bit e-paper rendition of PNG. Nil when the
	// e-paper variant is disabled or its conversion failed.
	BMP []byte

	// UpdatedAt is the time the render producing this frame completed.
	UpdatedAt time.Time
}

// Status is a point-in-time copy of everything the cell knows.
type Status struct {
	HasImage     bool
	UpdatedAt    time.Time
	LastDuration time.Duration
	LastRenderAt time.Time
	LastError    string
}

// Cell is the cache cell. Readers never block on a render: a frame is only
// installed once it is complete, and a read returns whichever frame was
// installed last.
type Cell struct {
	mu           sync.RWMutex
	frame        *Frame
	lastDuration time.Duration
	lastRenderAt time.Time
	lastErr      error
}

// Current returns the latest frame, or nil before the first successful render.
// The returned frame must be treated as read-only.
func (c *Cell) Current() *Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame
}

// LastDuration returns how long the most recent render took, successful or not.
func (c *Cell) LastDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastDuration
}

// Publish installs a new frame and records the render that produced it.
func (c *Cell) Publish(f *Frame, took time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = f
	c.lastDuration = took
	c.lastRenderAt = f.UpdatedAt
	c.lastErr = nil
}

// Fail records a failed render. The current frame stays authoritative.
func (c *Cell) Fail(err error, took time.Duration, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDuration = took
	c.lastRenderAt = at
	c.lastErr = err
}

// Status returns a snapshot of the cell.
func (c *Cell) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		HasImage:     c.frame != nil,
		LastDuration: c.lastDuration,
		LastRenderAt: c.lastRenderAt,
	}
	if c.frame != nil {
		st.UpdatedAt = c.frame.UpdatedAt
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}
