package browser

import (
	"context"
	"errors"
	"testing"
)

// newTestPool returns a pool whose acquire/alive seams are stubbed so no
// real browser is launched.
func newTestPool(acquire func(context.Context) (*Session, error), alive func(context.Context, *Session) bool) *Pool {
	p := NewPool(DefaultConfig())
	p.acquire = acquire
	p.alive = alive
	return p
}

func readySession(id string) *Session {
	return &Session{id: id, state: StateReady}
}

func TestPool_AcquiresWhenEmpty(t *testing.T) {
	acquired := 0
	p := newTestPool(
		func(context.Context) (*Session, error) {
			acquired++
			return readySession("fresh"), nil
		},
		func(context.Context, *Session) bool { return true },
	)

	s, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.ID() != "fresh" || acquired != 1 {
		t.Errorf("got session %q, acquired=%d", s.ID(), acquired)
	}
}

func TestPool_ReusesLiveSession(t *testing.T) {
	p := newTestPool(
		func(context.Context) (*Session, error) {
			t.Fatal("acquire should not be called when a live idle session exists")
			return nil, nil
		},
		func(context.Context, *Session) bool { return true },
	)

	s := readySession("reused")
	p.Put(s)

	got, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != s {
		t.Errorf("expected pooled session back, got %q", got.ID())
	}
}

func TestPool_DeadSessionForcesReacquire(t *testing.T) {
	p := newTestPool(
		func(context.Context) (*Session, error) {
			return readySession("fresh"), nil
		},
		func(context.Context, *Session) bool { return false },
	)

	dead := readySession("dead")
	p.Put(dead)

	got, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID() != "fresh" {
		t.Errorf("expected fresh session, got %q", got.ID())
	}
	if dead.State() != StateClosed {
		t.Errorf("dead session not closed: state %v", dead.State())
	}
}

func TestPool_AcquireErrorPropagates(t *testing.T) {
	wantErr := errors.New("no chromium")
	p := newTestPool(
		func(context.Context) (*Session, error) { return nil, wantErr },
		func(context.Context, *Session) bool { return true },
	)
	if _, err := p.Get(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Get error = %v, want %v", err, wantErr)
	}
}

func TestPool_PutAfterCloseClosesSession(t *testing.T) {
	p := newTestPool(
		func(context.Context) (*Session, error) { return readySession("x"), nil },
		func(context.Context, *Session) bool { return true },
	)
	pooled := readySession("pooled")
	p.Put(pooled)
	p.Close()

	if pooled.State() != StateClosed {
		t.Errorf("idle session not closed on pool close: %v", pooled.State())
	}

	late := readySession("late")
	p.Put(late)
	if late.State() != StateClosed {
		t.Errorf("session returned after close not closed: %v", late.State())
	}
}

func TestPool_PutNonReadySessionIsClosed(t *testing.T) {
	p := newTestPool(
		func(context.Context) (*Session, error) { return readySession("x"), nil },
		func(context.Context, *Session) bool { return true },
	)
	failed := &Session{id: "failed", state: StateFailed}
	p.Put(failed)

	p.mu.Lock()
	n := len(p.idle)
	p.mu.Unlock()
	if n != 0 {
		t.Errorf("failed session was pooled")
	}
}

func TestSessionState_String(t *testing.T) {
	cases := map[State]string{
		StateStarting: "starting",
		StateReady:    "ready",
		StateClosed:   "closed",
		StateFailed:   "failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestSessionClose_Idempotent(t *testing.T) {
	s := readySession("close-twice")
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state after Close = %v", s.State())
	}
}
