// Package store is the single designated write point for extracted
// records: the orchestrator writes through the Sink interface, so the
// concrete sink (SQLite, JSONL, multiple at once) can be swapped without
// touching extraction logic.
package store

import (
	"harvest/internal/extract"
)

// Run summarizes one orchestrator invocation.
type Run struct {
	ID             string
	StartedAt      string
	FinishedAt     string
	Status         string
	TasksTotal     int
	TasksSucceeded int
}

// Failure is the stored terminal failure of one task.
type Failure struct {
	RunID    string
	Task     string
	Reason   string
	Attempts int
}

// Sink receives run outcomes. Implementations must tolerate concurrent
// calls from multiple workers.
type Sink interface {
	// BeginRun and EndRun bracket one orchestrator invocation. Sinks
	// without run-level state may treat them as no-ops.
	BeginRun(runID string, tasksTotal int) error
	EndRun(runID, status string, succeeded int) error
	SaveRecord(rec *extract.Record) error
	SaveFailure(f *Failure) error
	Close() error
}

// Multi fans writes out to several sinks. The first error wins but all
// sinks still see the write.
type Multi []Sink

func (m Multi) BeginRun(runID string, tasksTotal int) error {
	var first error
	for _, s := range m {
		if err := s.BeginRun(runID, tasksTotal); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) EndRun(runID, status string, succeeded int) error {
	var first error
	for _, s := range m {
		if err := s.EndRun(runID, status, succeeded); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) SaveRecord(rec *extract.Record) error {
	var first error
	for _, s := range m {
		if err := s.SaveRecord(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) SaveFailure(f *Failure) error {
	var first error
	for _, s := range m {
		if err := s.SaveFailure(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
