package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"harvest/internal/extract"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default relative path for the SQLite DB.
// Open() creates the parent dir (e.g. .harvest) if needed.
const DefaultDBPath = ".harvest/harvest.db"

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	started_at      TEXT NOT NULL,
	finished_at     TEXT,
	status          TEXT NOT NULL DEFAULT 'running',
	tasks_total     INTEGER NOT NULL DEFAULT 0,
	tasks_succeeded INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	task       TEXT NOT NULL,
	url        TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	attempts   INTEGER NOT NULL,
	fields     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id);

CREATE TABLE IF NOT EXISTS failures (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	task       TEXT NOT NULL,
	reason     TEXT NOT NULL,
	attempts   INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id);
`

// SqlStore implements Sink with SQLite, and adds the query surface the
// results subcommand reads from.
type SqlStore struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and applies the schema.
// Creates the parent directory (e.g. .harvest) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SqlStore{db: db}, nil
}

// Close closes the underlying DB.
func (s *SqlStore) Close() error { return s.db.Close() }

// BeginRun inserts a run row in the "running" state.
func (s *SqlStore) BeginRun(runID string, tasksTotal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started_at, status, tasks_total) VALUES (?, ?, 'running', ?)`,
		runID, nowUTC(), tasksTotal)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// EndRun marks a run terminal with its aggregate status.
func (s *SqlStore) EndRun(runID, status string, succeeded int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, tasks_succeeded = ? WHERE id = ?`,
		nowUTC(), status, succeeded, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// SaveRecord stores one extracted record; fields are stored as JSON.
func (s *SqlStore) SaveRecord(rec *extract.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO records (run_id, task, url, fetched_at, attempts, fields) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Task, rec.URL, rec.FetchedAt.Format(time.RFC3339), rec.Attempts, string(fields))
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// SaveFailure stores one terminal task failure.
func (s *SqlStore) SaveFailure(f *Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO failures (run_id, task, reason, attempts, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.RunID, f.Task, f.Reason, f.Attempts, nowUTC())
	if err != nil {
		return fmt.Errorf("save failure: %w", err)
	}
	return nil
}

// GetRun fetches one run row.
func (s *SqlStore) GetRun(runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRow(
		`SELECT id, started_at, COALESCE(finished_at, ''), status, tasks_total, tasks_succeeded
		 FROM runs WHERE id = ?`, runID)
	var r Run
	if err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.TasksTotal, &r.TasksSucceeded); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// ListRuns returns all runs, most recent first.
func (s *SqlStore) ListRuns() ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT id, started_at, COALESCE(finished_at, ''), status, tasks_total, tasks_succeeded
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.TasksTotal, &r.TasksSucceeded); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// ListRecords returns the records of one run in insertion order.
func (s *SqlStore) ListRecords(runID string) ([]*extract.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT task, url, fetched_at, attempts, fields FROM records WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	var recs []*extract.Record
	for rows.Next() {
		var (
			rec       extract.Record
			fetchedAt string
			fields    string
		)
		if err := rows.Scan(&rec.Task, &rec.URL, &fetchedAt, &rec.Attempts, &fields); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.RunID = runID
		if rec.FetchedAt, err = time.Parse(time.RFC3339, fetchedAt); err != nil {
			return nil, fmt.Errorf("parse fetched_at: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// ListFailures returns the terminal failures of one run.
func (s *SqlStore) ListFailures(runID string) ([]*Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT task, reason, attempts FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()
	var fails []*Failure
	for rows.Next() {
		f := Failure{RunID: runID}
		if err := rows.Scan(&f.Task, &f.Reason, &f.Attempts); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		fails = append(fails, &f)
	}
	return fails, rows.Err()
}
