package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"harvest/internal/extract"
)

func testRecord(runID, taskName string) *extract.Record {
	return &extract.Record{
		Task:      taskName,
		URL:       "https://example.com/" + taskName,
		Fields:    map[string]any{"title": "Sunny Duplex", "price": 12345.0},
		FetchedAt: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		Attempts:  2,
		RunID:     runID,
	}
}

func TestSqlStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	const runID = "run-1"
	if err := s.BeginRun(runID, 3); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	rec := testRecord(runID, "listing")
	if err := s.SaveRecord(rec); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if err := s.SaveFailure(&Failure{RunID: runID, Task: "detail", Reason: "retries exhausted", Attempts: 3}); err != nil {
		t.Fatalf("SaveFailure: %v", err)
	}
	if err := s.EndRun(runID, "partial-failure", 1); err != nil {
		t.Fatalf("EndRun: %v", err)
	}

	run, err := s.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != "partial-failure" || run.TasksTotal != 3 || run.TasksSucceeded != 1 {
		t.Errorf("run: %+v", run)
	}
	if run.FinishedAt == "" {
		t.Error("FinishedAt not set")
	}

	recs, err := s.ListRecords(runID)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records: got %d, want 1", len(recs))
	}
	if diff := cmp.Diff(rec, recs[0]); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	fails, err := s.ListFailures(runID)
	if err != nil {
		t.Fatalf("ListFailures: %v", err)
	}
	if len(fails) != 1 || fails[0].Task != "detail" || fails[0].Attempts != 3 {
		t.Errorf("failures: %+v", fails)
	}

	runs, err := s.ListRuns()
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns: got %d err %v", len(runs), err)
	}
}

func TestSqlStore_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".harvest", "nested", "harvest.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open with missing parent: %v", err)
	}
	s.Close()
}

func TestJSONLSink_Lines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLSink(&buf)

	if err := sink.SaveRecord(testRecord("run-1", "listing")); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if err := sink.SaveFailure(&Failure{RunID: "run-1", Task: "detail", Reason: "permission denied", Attempts: 1}); err != nil {
		t.Fatalf("SaveFailure: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sc := bufio.NewScanner(&buf)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line not JSON: %v", err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0]["task"] != "listing" || lines[0]["failure"] == true {
		t.Errorf("record line: %v", lines[0])
	}
	if lines[1]["failure"] != true || lines[1]["reason"] != "permission denied" {
		t.Errorf("failure line: %v", lines[1])
	}
}

func TestOpenJSONL_AppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")

	for _, taskName := range []string{"first", "second"} {
		sink, err := OpenJSONL(path)
		if err != nil {
			t.Fatalf("OpenJSONL: %v", err)
		}
		if err := sink.SaveRecord(testRecord("run-"+taskName, taskName)); err != nil {
			t.Fatalf("SaveRecord: %v", err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines after two runs, want 2", len(lines))
	}
	var rec extract.Record
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("first line not JSON: %v", err)
	}
	if rec.Task != "first" {
		t.Errorf("first line task = %q, want %q", rec.Task, "first")
	}
}

func TestMulti_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	m := Multi{NewJSONLSink(&a), NewJSONLSink(&b)}

	if err := m.SaveRecord(testRecord("run-1", "t")); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if a.Len() == 0 || b.Len() == 0 {
		t.Error("write did not reach every sink")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
