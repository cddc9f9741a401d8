// Package navigate issues page loads against a browser session and waits
// for a bounded readiness condition before the page is considered safe to
// read. It classifies failures (timeout, navigation error, permission
// denied) and never retries; retry policy lives with the caller.
package navigate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"harvest/internal/browser"
	"harvest/internal/logging"
	"harvest/internal/task"
)

// ErrNavigationTimeout marks a load or readiness wait that did not finish
// within its bound, including waits cut short by run cancellation.
var ErrNavigationTimeout = errors.New("navigation timeout")

// ErrNavigation marks network-level load failures (DNS, TLS, refused
// connections, 5xx responses). Transient.
var ErrNavigation = errors.New("navigation error")

// ErrPermissionDenied marks a 401/403 response from the target. Retrying
// cannot fix it.
var ErrPermissionDenied = errors.New("permission denied")

// PageState is the transient result of one navigation: the captured
// document and how the load went. Discarded after extraction.
type PageState struct {
	URL     string // final URL after redirects
	HTML    string
	Status  int64 // 0 when the protocol reported no response
	Ready   bool
	Elapsed time.Duration
}

// Navigator drives page loads. Timeout bounds the load itself;
// ReadyTimeout is the default bound for readiness waits when the task does
// not set its own.
type Navigator struct {
	Timeout      time.Duration
	ReadyTimeout time.Duration
	logger       *slog.Logger
}

// New returns a Navigator with the given load timeout.
func New(timeout time.Duration) *Navigator {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Navigator{
		Timeout:      timeout,
		ReadyTimeout: 15 * time.Second,
		logger:       logging.New("navigate"),
	}
}

// Navigate loads the task's URL in the session, waits for the task's
// readiness condition, and captures the document. ctx carries run-level
// cancellation; the session's browser context carries the connection.
func (n *Navigator) Navigate(ctx context.Context, sess *browser.Session, t task.Task) (*PageState, error) {
	start := time.Now()

	navCtx, cancel := context.WithTimeout(sess.Context(), n.Timeout)
	defer cancel()
	// Run cancellation must interrupt an in-flight load.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var resp *network.Response
	resp, err := chromedp.RunResponse(navCtx, network.Enable(), chromedp.Navigate(t.URL))
	if err != nil {
		return nil, n.classify(t, err, time.Since(start))
	}
	var status int64
	if resp != nil {
		status = resp.Status
	}
	if status == 401 || status == 403 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrPermissionDenied, t.URL, status)
	}
	if status >= 500 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrNavigation, t.URL, status)
	}

	if err := n.awaitReady(ctx, navCtx, t.Readiness); err != nil {
		return nil, n.classify(t, err, time.Since(start))
	}

	var finalURL, html string
	err = chromedp.Run(navCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, n.classify(t, err, time.Since(start))
	}

	elapsed := time.Since(start)
	n.logger.Debug("page ready",
		"task", t.Name, "url", finalURL, "status", status, "elapsed", elapsed)
	return &PageState{
		URL:     finalURL,
		HTML:    html,
		Status:  status,
		Ready:   true,
		Elapsed: elapsed,
	}, nil
}

// readyBound computes the timeout for a readiness wait. A fixed delay is
// always given room to elapse, even when it exceeds the configured bound;
// the bound would otherwise cut the sleep short on every attempt.
func (n *Navigator) readyBound(r task.Readiness) time.Duration {
	timeout := r.Timeout.Std()
	if timeout <= 0 {
		timeout = n.ReadyTimeout
	}
	if r.Mode == task.ReadyDelay && r.Delay.Std() >= timeout {
		timeout = r.Delay.Std() + time.Second
	}
	return timeout
}

// awaitReady applies the task's readiness condition with its own bound.
func (n *Navigator) awaitReady(ctx, navCtx context.Context, r task.Readiness) error {
	readyCtx, cancel := context.WithTimeout(navCtx, n.readyBound(r))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	switch r.Mode {
	case task.ReadyDelay:
		return chromedp.Run(readyCtx, chromedp.Sleep(r.Delay.Std()))
	case task.ReadySelector:
		return chromedp.Run(readyCtx, chromedp.WaitVisible(r.Selector, chromedp.ByQuery))
	default: // task.ReadyDOM and the empty default
		return chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery))
	}
}

// classify maps driver errors onto the failure taxonomy. Deadline and
// cancellation collapse to a timeout; a dead DevTools connection is
// surfaced as a dead session so the caller can re-acquire; everything else
// is a navigation error.
func (n *Navigator) classify(t task.Task, err error, elapsed time.Duration) error {
	n.logger.Debug("navigation failed", "task", t.Name, "elapsed", elapsed, "error", err)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s after %s", ErrNavigationTimeout, t.URL, elapsed.Round(time.Millisecond))
	case errors.Is(err, chromedp.ErrInvalidTarget),
		errors.Is(err, chromedp.ErrInvalidContext),
		errors.Is(err, chromedp.ErrChannelClosed):
		return fmt.Errorf("%w: %v", browser.ErrSessionDead, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrNavigation, t.URL, err)
	}
}
