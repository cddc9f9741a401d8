package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"harvest/internal/store"
)

var resultsFlags struct {
	dbPath string
	runID  string
	asJSON bool
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List stored runs, or dump one run's records",
	Long: `Results reads the SQLite sink. Without --run it lists runs newest
first; with --run it prints that run's records (and failures) either as
a summary or, with --json, as one JSON object per record.`,
	Args: cobra.NoArgs,
	RunE: runResults,
}

func init() {
	f := resultsCmd.Flags()
	f.StringVar(&resultsFlags.dbPath, "db", store.DefaultDBPath, "SQLite sink path")
	f.StringVar(&resultsFlags.runID, "run", "", "Run ID to dump")
	f.BoolVar(&resultsFlags.asJSON, "json", false, "Emit records as JSON lines")
}

func runResults(_ *cobra.Command, _ []string) error {
	s, err := store.Open(resultsFlags.dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if resultsFlags.runID == "" {
		runs, err := s.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %-15s  %d/%d succeeded  started %s\n",
				r.ID, r.Status, r.TasksSucceeded, r.TasksTotal, r.StartedAt)
		}
		return nil
	}

	recs, err := s.ListRecords(resultsFlags.runID)
	if err != nil {
		return err
	}
	fails, err := s.ListFailures(resultsFlags.runID)
	if err != nil {
		return err
	}

	if resultsFlags.asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	}

	for _, rec := range recs {
		fmt.Printf("PASS %-24s %s fields=%d attempts=%d\n", rec.Task, rec.URL, len(rec.Fields), rec.Attempts)
	}
	for _, f := range fails {
		fmt.Printf("FAIL %-24s attempts=%d %s\n", f.Task, f.Attempts, f.Reason)
	}
	return nil
}
