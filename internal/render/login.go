package render

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	usernameSelector = `[type="text"]`
	passwordSelector = `[type="password"]`

	// loginNavigationTimeout bounds the wait for the page submitted by the
	// login form. Single page apps may never fire a new load event.
	loginNavigationTimeout = 30 * time.Second
)

var loginProbe = fmt.Sprintf(`!!(document.querySelector(%q) && document.querySelector(%q))`,
	usernameSelector, passwordSelector)

// login fills and submits the login form if the page shows one.
func (c *Chrome) login(ctx context.Context) error {
	c.logger.Debug("update login checking", "delay", c.opts.PostLoadDelay.String())

	var found bool
	err := chromedp.Run(ctx,
		chromedp.Sleep(c.opts.PostLoadDelay),
		chromedp.Evaluate(loginProbe, &found),
	)
	if err != nil {
		return fmt.Errorf("unable to probe login form: %w", err)
	}

	c.logger.Debug("update login found", "found", found)
	if !found {
		return nil
	}

	loaded := make(chan struct{}, 1)
	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	err = chromedp.Run(ctx,
		chromedp.SendKeys(usernameSelector, c.opts.Credentials.Username, chromedp.ByQuery),
		chromedp.SendKeys(passwordSelector, c.opts.Credentials.Password+kb.Enter, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("unable to submit login form: %w", err)
	}

	c.logger.Debug("update wait for navigation")
	select {
	case <-loaded:
	case <-time.After(loginNavigationTimeout):
		c.logger.Warn("no navigation after login, continuing", "timeout", loginNavigationTimeout.String())
	case <-ctx.Done():
		return fmt.Errorf("waiting for login navigation: %w", ctx.Err())
	}
	return nil
}
