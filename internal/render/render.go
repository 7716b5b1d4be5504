// Package render produces PNG screenshots of a web page with a headless
// Chrome driven over the DevTools protocol.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/animation"
	"github.com/chromedp/chromedp"
)

// animationPlaybackRate speeds up CSS/web animations so pages settle sooner.
const animationPlaybackRate = 20

// ErrNoURL is returned when the renderer has no page to load.
var ErrNoURL = errors.New("render: target url is empty")

// Viewport is the browser window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Credentials are typed into the page's login form when one is found.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether login should be skipped.
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

// Options configure a [Chrome] renderer.
type Options struct {
	URL         string
	Viewport    Viewport
	Credentials Credentials

	// PostLoadDelay is waited after the page loads, and before looking for a
	// login form, because content is often still streaming in.
	PostLoadDelay time.Duration

	// UserDataDir keeps cookies and local storage between renders so a
	// session survives and the login step is usually skipped.
	UserDataDir string

	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Chrome renders by launching a fresh headless browser for every call.
type Chrome struct {
	opts   Options
	logger *slog.Logger
}

// NewChrome returns a renderer for opts.
func NewChrome(opts Options, logger *slog.Logger) *Chrome {
	return &Chrome{opts: opts, logger: logger}
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(c.opts.Viewport.Width, c.opts.Viewport.Height),
	)
	if c.opts.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(c.opts.UserDataDir))
	}
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	return opts
}

// Render loads the page, logs in if needed and returns a PNG screenshot.
// The browser is closed before Render returns, also when ctx is cancelled.
func (c *Chrome) Render(ctx context.Context) ([]byte, error) {
	if c.opts.URL == "" {
		return nil, ErrNoURL
	}

	c.logger.Debug("update open browser")
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer func() {
		c.logger.Debug("update close")
		cancelTab()
	}()

	c.logger.Debug("update goto", "url", c.opts.URL)
	err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(c.opts.Viewport.Width), int64(c.opts.Viewport.Height)),
		chromedp.Navigate(c.opts.URL),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load %s: %w", c.opts.URL, err)
	}

	c.logger.Debug("update load")
	if err := chromedp.Run(tabCtx, animation.SetPlaybackRate(animationPlaybackRate)); err != nil {
		c.logger.Debug("animation speed-up unavailable", "error", err)
	}

	if !c.opts.Credentials.Empty() {
		if err := c.login(tabCtx); err != nil {
			return nil, err
		}
	}

	c.logger.Debug("update wait", "delay", c.opts.PostLoadDelay.String())
	var png []byte
	err = chromedp.Run(tabCtx,
		chromedp.Sleep(c.opts.PostLoadDelay),
		chromedp.CaptureScreenshot(&png),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to capture screenshot: %w", err)
	}

	c.logger.Debug("update screenshot", "bytes", len(png))
	return png, nil
}
