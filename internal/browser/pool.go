package browser

import (
	"context"
	"log/slog"
	"sync"

	"harvest/internal/logging"
)

// Pool reuses sessions across sequential tasks to amortize browser startup.
// A session handed back with Put is only handed out again after it passes a
// liveness check; a dead session is closed and a fresh one is acquired in
// its place. Get/Put are safe for concurrent use by multiple workers, but
// each session is owned by exactly one caller between Get and Put.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	// seams for tests
	acquire func(context.Context) (*Session, error)
	alive   func(context.Context, *Session) bool

	mu     sync.Mutex
	idle   []*Session
	closed bool
}

// NewPool returns an empty pool that launches browsers with cfg on demand.
func NewPool(cfg Config) *Pool {
	return &Pool{
		cfg:    cfg,
		logger: logging.New("browser-pool"),
		acquire: func(ctx context.Context) (*Session, error) {
			return Acquire(ctx, cfg)
		},
		alive: func(ctx context.Context, s *Session) bool {
			return s.Alive(ctx)
		},
	}
}

// Get returns a live session, reusing an idle one when possible.
func (p *Pool) Get(ctx context.Context) (*Session, error) {
	for {
		p.mu.Lock()
		if len(p.idle) == 0 {
			p.mu.Unlock()
			break
		}
		s := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()

		if p.alive(ctx, s) {
			return s, nil
		}
		p.logger.Debug("discarding dead pooled session", "session_id", s.ID())
		_ = s.Close()
	}
	return p.acquire(ctx)
}

// Put hands a session back for reuse. Sessions returned after the pool is
// closed, or in a non-ready state, are closed instead of pooled.
func (p *Pool) Put(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if p.closed || s.State() != StateReady {
		p.mu.Unlock()
		_ = s.Close()
		return
	}
	p.idle = append(p.idle, s)
	p.mu.Unlock()
}

// Close tears down every idle session. Sessions currently checked out are
// the borrower's responsibility.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	for _, s := range idle {
		_ = s.Close()
	}
}
