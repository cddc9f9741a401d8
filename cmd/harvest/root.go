// harvest drives headless Chromium through declarative navigation and
// extraction tasks.
//
// Usage:
//
//	harvest run -f tasks.yaml [--workers=N] [--db=path] [--out=records.jsonl]
//	harvest validate -f tasks.yaml
//	harvest results [--run=<id>] [--db=path]
//
// Exit codes for run: 0 all tasks succeeded, 2 some tasks failed,
// 1 no task succeeded or the browser could not be started.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Reliable data extraction from dynamic web pages",
	Long: "Harvest runs declarative scraping tasks against headless Chromium:\nnavigate, wait for readiness, extract named fields, retry transient\nfailures with backoff, and write records to SQLite or JSONL.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code out of a subcommand without
// tripping cobra's error printing.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
