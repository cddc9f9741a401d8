package run

import (
	"context"
	"errors"
	"time"

	"harvest/internal/browser"
	"harvest/internal/extract"
	"harvest/internal/navigate"
	"harvest/internal/task"
)

// pageLoader is the navigation dependency of a chrome session, an
// interface so tests can stand in for the real Navigator.
type pageLoader interface {
	Navigate(ctx context.Context, sess *browser.Session, t task.Task) (*navigate.PageState, error)
}

// ChromeDriver is the production Driver: sessions come from a browser pool
// and Perform is a chromedp navigation followed by extraction.
type ChromeDriver struct {
	pool *browser.Pool
	nav  pageLoader
}

// NewChromeDriver builds a driver over a fresh session pool.
func NewChromeDriver(cfg browser.Config, navTimeout time.Duration) *ChromeDriver {
	return &ChromeDriver{
		pool: browser.NewPool(cfg),
		nav:  navigate.New(navTimeout),
	}
}

// Acquire checks a session out of the pool, launching a browser if none is
// idle.
func (d *ChromeDriver) Acquire(ctx context.Context) (Session, error) {
	s, err := d.pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &chromeSession{s: s, d: d}, nil
}

// Close tears down every pooled session. Call after the run completes.
func (d *ChromeDriver) Close() { d.pool.Close() }

type chromeSession struct {
	s    *browser.Session
	d    *ChromeDriver
	dead bool
}

func (c *chromeSession) Perform(ctx context.Context, t task.Task) (*extract.Record, error) {
	ps, err := c.d.nav.Navigate(ctx, c.s, t)
	if err != nil {
		if errors.Is(err, browser.ErrSessionDead) {
			c.dead = true
		}
		return nil, err
	}
	return extract.Extract(ps, t)
}

func (c *chromeSession) Alive(ctx context.Context) bool {
	return c.s.Alive(ctx)
}

// Close hands a live session back to the pool, which decides between reuse
// and teardown. A session whose browser died is torn down outright instead
// of being pooled and re-probed.
func (c *chromeSession) Close() error {
	if c.dead {
		return c.s.Close()
	}
	c.d.pool.Put(c.s)
	return nil
}
