// Package run sequences tasks through sessions and the retry controller,
// aggregates per-task outcomes, and computes the process exit status. Tasks
// are independent: one task's failure never aborts the others.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"harvest/internal/browser"
	"harvest/internal/extract"
	"harvest/internal/logging"
	"harvest/internal/metrics"
	"harvest/internal/retry"
	"harvest/internal/store"
	"harvest/internal/task"
)

// Driver acquires browser sessions. Abstracted so the orchestrator can be
// exercised without a real browser.
type Driver interface {
	Acquire(ctx context.Context) (Session, error)
}

// Session is one exclusively-owned browser session: it performs one task's
// navigate+extract at a time and is never shared across workers.
type Session interface {
	Perform(ctx context.Context, t task.Task) (*extract.Record, error)
	Alive(ctx context.Context) bool
	Close() error
}

// Status is the terminal state of one task.
type Status int

const (
	Succeeded Status = iota
	FatallyFailed
	RetriesExhausted
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case FatallyFailed:
		return "fatally-failed"
	case RetriesExhausted:
		return "retries-exhausted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// RunStatus is the aggregate over all tasks.
type RunStatus int

const (
	FullSuccess RunStatus = iota
	PartialFailure
	FullFailure
)

func (s RunStatus) String() string {
	switch s {
	case FullSuccess:
		return "success"
	case PartialFailure:
		return "partial-failure"
	case FullFailure:
		return "full-failure"
	}
	return fmt.Sprintf("runstatus(%d)", int(s))
}

// ExitCode maps the aggregate status onto the process exit code: 0 when
// everything worked, 2 when some targets failed, 1 when nothing worked.
func (s RunStatus) ExitCode() int {
	switch s {
	case FullSuccess:
		return 0
	case PartialFailure:
		return 2
	default:
		return 1
	}
}

// TaskOutcome pairs a task with its terminal state.
type TaskOutcome struct {
	Task     task.Task
	Status   Status
	Record   *extract.Record
	Err      error
	Attempts int
}

// Result is the ordered outcome set of one run.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Outcomes []TaskOutcome
}

// Succeeded counts tasks that produced a record.
func (r *Result) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == Succeeded {
			n++
		}
	}
	return n
}

// Status computes the aggregate status.
func (r *Result) Status() RunStatus {
	s := r.Succeeded()
	switch {
	case s == len(r.Outcomes):
		return FullSuccess
	case s == 0:
		return FullFailure
	default:
		return PartialFailure
	}
}

// Config holds run-level knobs.
type Config struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Deadline    time.Duration
	TaskDelay   time.Duration
	TaskJitter  time.Duration
}

// Orchestrator owns one run: a worker pool of sessions, the retry
// controller, and the sink writes.
type Orchestrator struct {
	cfg     Config
	driver  Driver
	sink    store.Sink       // nil: outcomes only surface in the Result
	metrics *metrics.Metrics // nil: no counters
	logger  *slog.Logger
}

// New returns an Orchestrator. sink and m may be nil.
func New(cfg Config, driver Driver, sink store.Sink, m *metrics.Metrics) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		cfg:     cfg,
		driver:  driver,
		sink:    sink,
		metrics: m,
		logger:  logging.New("run"),
	}
}

// Run executes the task list and returns one outcome per task, in input
// order. The error return covers sink plumbing only; task failures live in
// the Result.
func (o *Orchestrator) Run(ctx context.Context, tasks []task.Task) (*Result, error) {
	res := &Result{
		RunID:    uuid.NewString(),
		Started:  time.Now().UTC(),
		Outcomes: make([]TaskOutcome, len(tasks)),
	}

	runCtx := ctx
	if o.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
		defer cancel()
	}

	if o.sink != nil {
		if err := o.sink.BeginRun(res.RunID, len(tasks)); err != nil {
			return nil, fmt.Errorf("begin run: %w", err)
		}
	}

	jobs := make(chan int, len(tasks))
	for i := range tasks {
		jobs <- i
	}
	close(jobs)

	workers := o.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	o.logger.Info("run starting", "run_id", res.RunID, "tasks", len(tasks), "workers", workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			o.worker(runCtx, res, tasks, jobs)
			return nil
		})
	}
	_ = g.Wait() // per-task errors live in res.Outcomes

	res.Finished = time.Now().UTC()

	status := res.Status()

	var sinkErr error
	if o.sink != nil {
		for i := range res.Outcomes {
			if err := o.persist(res.RunID, &res.Outcomes[i]); err != nil && sinkErr == nil {
				sinkErr = err
			}
		}
		if err := o.sink.EndRun(res.RunID, status.String(), res.Succeeded()); err != nil && sinkErr == nil {
			sinkErr = err
		}
	}

	o.logger.Info("run finished",
		"run_id", res.RunID,
		"status", status.String(),
		"succeeded", res.Succeeded(),
		"failed", len(tasks)-res.Succeeded(),
		"elapsed", res.Finished.Sub(res.Started).Round(time.Millisecond))
	return res, sinkErr
}

// worker processes jobs with one session, reused across tasks after a
// liveness check. The session is released exactly once, on every exit path
// including cancellation.
func (o *Orchestrator) worker(ctx context.Context, res *Result, tasks []task.Task, jobs <-chan int) {
	ctrl := retry.New(o.cfg.MaxAttempts, o.cfg.BaseDelay, o.cfg.MaxDelay)

	var sess Session
	defer func() {
		if sess != nil {
			_ = sess.Close()
		}
	}()

	first := true
	for idx := range jobs {
		if !first {
			o.pace(ctx)
		}
		first = false

		t := tasks[idx]

		// A session that survived the previous task must pass a liveness
		// check before reuse.
		if sess != nil && !sess.Alive(ctx) {
			_ = sess.Close()
			sess = nil
		}

		var rec *extract.Record
		attempts, err := ctrl.Execute(ctx, t.Name, func(actx context.Context, n int) error {
			if sess == nil {
				s, aerr := o.driver.Acquire(actx)
				if aerr != nil {
					return aerr
				}
				sess = s
				if o.metrics != nil {
					o.metrics.SessionsStarted.Inc()
				}
			}
			start := time.Now()
			r, perr := sess.Perform(actx, t)
			if o.metrics != nil {
				o.metrics.AttemptDuration.Observe(time.Since(start).Seconds())
				result := "success"
				if perr != nil {
					result = "failure"
				}
				o.metrics.AttemptsTotal.WithLabelValues(result).Inc()
			}
			if perr != nil {
				if errors.Is(perr, browser.ErrSessionDead) {
					_ = sess.Close()
					sess = nil
				}
				return perr
			}
			rec = r
			return nil
		})

		outcome := TaskOutcome{Task: t, Attempts: len(attempts), Err: err}
		switch {
		case err == nil:
			rec.RunID = res.RunID
			rec.Attempts = len(attempts)
			outcome.Status = Succeeded
			outcome.Record = rec
		default:
			var exhausted *retry.RetriesExhaustedError
			if errors.As(err, &exhausted) {
				outcome.Status = RetriesExhausted
			} else {
				outcome.Status = FatallyFailed
			}
			o.logger.Warn("task failed",
				"task", t.Name, "status", outcome.Status.String(), "attempts", outcome.Attempts, "error", err)
		}
		if o.metrics != nil {
			o.metrics.TasksTotal.WithLabelValues(outcome.Status.String()).Inc()
			if outcome.Status == Succeeded {
				o.metrics.RecordsTotal.Inc()
			}
		}
		res.Outcomes[idx] = outcome
	}
}

// pace applies the optional between-task delay with jitter, bounded by ctx.
func (o *Orchestrator) pace(ctx context.Context) {
	d := o.cfg.TaskDelay
	if o.cfg.TaskJitter > 0 {
		d += time.Duration(rand.Int63n(int64(o.cfg.TaskJitter)))
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// persist writes one outcome through the sink.
func (o *Orchestrator) persist(runID string, oc *TaskOutcome) error {
	if oc.Status == Succeeded {
		return o.sink.SaveRecord(oc.Record)
	}
	reason := "unknown"
	if oc.Err != nil {
		reason = oc.Err.Error()
	}
	return o.sink.SaveFailure(&store.Failure{
		RunID:    runID,
		Task:     oc.Task.Name,
		Reason:   reason,
		Attempts: oc.Attempts,
	})
}
