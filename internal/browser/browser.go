// Package browser owns the lifecycle of headless Chromium sessions driven
// over the DevTools protocol. One Session maps to one OS-level browser
// process; acquisition blocks until the browser answers a probe or the
// startup timeout fires, and teardown is guaranteed and idempotent.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"harvest/internal/logging"
)

// ErrSessionStart marks a browser that could not be launched or did not
// become ready within the startup timeout. Always fatal for the run.
var ErrSessionStart = errors.New("session start failed")

// ErrSessionDead marks a session whose browser process is gone or no longer
// answering. Transient: the caller may re-acquire a fresh session.
var ErrSessionDead = errors.New("session dead")

// Config holds browser launch settings.
type Config struct {
	Headless       bool
	ChromePath     string // empty means PATH lookup by chromedp
	UserAgent      string
	WindowWidth    int
	WindowHeight   int
	ProxyURL       string
	StartupTimeout time.Duration
}

// DefaultConfig returns launch settings suitable for a container with
// chromium on PATH.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		WindowWidth:    1366,
		WindowHeight:   900,
		StartupTimeout: 30 * time.Second,
	}
}

// State is the session lifecycle state.
type State int

const (
	StateStarting State = iota
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is one live browser process and its DevTools connection. Owned
// exclusively by one worker at a time; not safe for concurrent navigations.
type Session struct {
	id          string
	cfg         Config
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	state       State
}

// Acquire launches a browser with the given config and blocks until it
// answers an evaluate probe or cfg.StartupTimeout elapses. The returned
// session must be released with Close on every exit path.
func Acquire(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultConfig().StartupTimeout
	}
	logger := logging.New("browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:          uuid.NewString(),
		cfg:         cfg,
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		state:       StateStarting,
	}

	// The first Run launches the process; probe until it evaluates JS.
	startCtx, startCancel := context.WithTimeout(browserCtx, cfg.StartupTimeout)
	defer startCancel()
	var probe int
	if err := chromedp.Run(startCtx, chromedp.Evaluate(`1`, &probe)); err != nil {
		s.state = StateFailed
		s.teardown()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: browser not ready after %s", ErrSessionStart, cfg.StartupTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionStart, err)
	}

	s.state = StateReady
	logger.Debug("session ready", "session_id", s.id, "headless", cfg.Headless)
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Context returns the chromedp browser context. Actions for this session
// must run against contexts derived from it.
func (s *Session) Context() context.Context { return s.ctx }

// Alive probes the browser with a short evaluate round trip. A reused
// session must pass this check before it is handed out again.
func (s *Session) Alive(ctx context.Context) bool {
	if s.state != StateReady {
		return false
	}
	probeCtx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	var probe int
	return chromedp.Run(probeCtx, chromedp.Evaluate(`1`, &probe)) == nil
}

// Close terminates the browser process and releases the DevTools
// connection. Safe to call more than once.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	if s.state != StateFailed {
		s.state = StateClosed
	}
	s.teardown()
	return nil
}

func (s *Session) teardown() {
	// Cancel order matters: browser context first, then the allocator,
	// which waits for the process to exit.
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}
