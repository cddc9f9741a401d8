package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"harvest/internal/extract"
)

// JSONLSink appends one JSON object per line: records as-is, failures
// wrapped in an envelope with "failure": true. Suitable for piping into
// downstream tooling.
type JSONLSink struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer // nil when the writer is not ours to close
	enc *json.Encoder
}

// NewJSONLSink writes to w without taking ownership of it.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{w: w, enc: json.NewEncoder(w)}
}

// OpenJSONL opens a JSONL file sink at path, creating it when absent.
// An existing file is appended to, so consecutive runs accumulate.
func OpenJSONL(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl sink: %w", err)
	}
	return &JSONLSink{w: f, c: f, enc: json.NewEncoder(f)}, nil
}

// BeginRun is a no-op: a JSONL stream has no run-level state.
func (s *JSONLSink) BeginRun(string, int) error { return nil }

// EndRun is a no-op.
func (s *JSONLSink) EndRun(string, string, int) error { return nil }

type jsonlFailure struct {
	Failure  bool   `json:"failure"`
	RunID    string `json:"run_id,omitempty"`
	Task     string `json:"task"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

func (s *JSONLSink) SaveRecord(rec *extract.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *JSONLSink) SaveFailure(f *Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := jsonlFailure{Failure: true, RunID: f.RunID, Task: f.Task, Reason: f.Reason, Attempts: f.Attempts}
	if err := s.enc.Encode(line); err != nil {
		return fmt.Errorf("write failure: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}
