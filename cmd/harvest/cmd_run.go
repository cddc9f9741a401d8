package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"harvest/internal/browser"
	"harvest/internal/logging"
	"harvest/internal/metrics"
	"harvest/internal/run"
	"harvest/internal/store"
	"harvest/internal/task"
)

var runFlags struct {
	tasksPath   string
	dbPath      string
	outPath     string
	workers     int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	deadline    time.Duration
	navTimeout  time.Duration
	headless    bool
	chromePath  string
	userAgent   string
	proxyURL    string
	metricsAddr string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a task file against headless Chromium",
	Long: `Run loads a YAML task file, drives each task through a browser worker
pool with retry and backoff, and writes extracted records to the
configured sinks.

Settings in the task file's settings: block are defaults; flags given
explicitly on the command line override them. The chromium binary is
found on PATH unless --chrome or HARVEST_CHROME_PATH points elsewhere.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.tasksPath, "tasks", "f", "", "Path to the YAML task file (required)")
	f.StringVar(&runFlags.dbPath, "db", store.DefaultDBPath, "SQLite sink path (empty to disable)")
	f.StringVarP(&runFlags.outPath, "out", "o", "", "JSONL sink path (optional)")
	f.IntVar(&runFlags.workers, "workers", 1, "Concurrent browser workers")
	f.IntVar(&runFlags.maxAttempts, "max-attempts", 3, "Attempt budget per task")
	f.DurationVar(&runFlags.baseDelay, "base-delay", 500*time.Millisecond, "Backoff before the first retry")
	f.DurationVar(&runFlags.maxDelay, "max-delay", 30*time.Second, "Backoff cap")
	f.DurationVar(&runFlags.deadline, "deadline", 0, "Overall run deadline (0 = none)")
	f.DurationVar(&runFlags.navTimeout, "nav-timeout", 45*time.Second, "Per-navigation timeout")
	f.BoolVar(&runFlags.headless, "headless", true, "Run the browser headless")
	f.StringVar(&runFlags.chromePath, "chrome", "", "Chromium binary path (default: $HARVEST_CHROME_PATH, then PATH)")
	f.StringVar(&runFlags.userAgent, "user-agent", "", "User-agent override")
	f.StringVar(&runFlags.proxyURL, "proxy", "", "Proxy server URL")
	f.StringVar(&runFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (optional)")
	_ = runCmd.MarkFlagRequired("tasks")
}

func runRun(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(rootFlags.logLevel)
	if err != nil {
		return err
	}
	logging.Init(level, rootFlags.logFormat)
	logger := logging.New("cli")

	file, err := task.Load(runFlags.tasksPath)
	if err != nil {
		return err
	}

	runCfg, browserCfg, navTimeout := buildConfig(cmd, file.Settings)

	sink, err := buildSinks()
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
	}

	m := metrics.New()
	if runFlags.metricsAddr != "" {
		go func() {
			logger.Info("metrics listening", "addr", runFlags.metricsAddr)
			if err := http.ListenAndServe(runFlags.metricsAddr, m.Handler()); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	driver := run.NewChromeDriver(browserCfg, navTimeout)
	defer driver.Close()

	res, err := run.New(runCfg, driver, sink, m).Run(cmd.Context(), file.Tasks)
	if err != nil {
		return err
	}

	printSummary(res)

	if code := res.Status().ExitCode(); code != 0 {
		return exitError{code: code}
	}
	return nil
}

// buildConfig layers built-in defaults, task file settings, and explicitly
// set flags, in that order.
func buildConfig(cmd *cobra.Command, s task.Settings) (run.Config, browser.Config, time.Duration) {
	runCfg := run.Config{
		Workers:     runFlags.workers,
		MaxAttempts: runFlags.maxAttempts,
		BaseDelay:   runFlags.baseDelay,
		MaxDelay:    runFlags.maxDelay,
		Deadline:    runFlags.deadline,
	}
	browserCfg := browser.DefaultConfig()
	browserCfg.Headless = runFlags.headless
	browserCfg.ChromePath = runFlags.chromePath
	browserCfg.UserAgent = runFlags.userAgent
	browserCfg.ProxyURL = runFlags.proxyURL
	navTimeout := runFlags.navTimeout

	// File settings fill every knob the command line left untouched.
	changed := cmd.Flags().Changed
	if s.Workers > 0 && !changed("workers") {
		runCfg.Workers = s.Workers
	}
	if s.MaxAttempts > 0 && !changed("max-attempts") {
		runCfg.MaxAttempts = s.MaxAttempts
	}
	if s.BaseDelay > 0 && !changed("base-delay") {
		runCfg.BaseDelay = s.BaseDelay.Std()
	}
	if s.MaxDelay > 0 && !changed("max-delay") {
		runCfg.MaxDelay = s.MaxDelay.Std()
	}
	if s.Deadline > 0 && !changed("deadline") {
		runCfg.Deadline = s.Deadline.Std()
	}
	if s.NavTimeout > 0 && !changed("nav-timeout") {
		navTimeout = s.NavTimeout.Std()
	}
	if s.Headless != nil && !changed("headless") {
		browserCfg.Headless = *s.Headless
	}
	if s.UserAgent != "" && !changed("user-agent") {
		browserCfg.UserAgent = s.UserAgent
	}
	if s.ChromePath != "" && !changed("chrome") {
		browserCfg.ChromePath = s.ChromePath
	}
	if s.ProxyURL != "" && !changed("proxy") {
		browserCfg.ProxyURL = s.ProxyURL
	}
	if s.StartupTimeout > 0 {
		browserCfg.StartupTimeout = s.StartupTimeout.Std()
	}
	if s.WindowWidth > 0 && s.WindowHeight > 0 {
		browserCfg.WindowWidth = s.WindowWidth
		browserCfg.WindowHeight = s.WindowHeight
	}
	runCfg.TaskDelay = s.TaskDelay.Std()
	runCfg.TaskJitter = s.TaskJitter.Std()

	if browserCfg.ChromePath == "" {
		browserCfg.ChromePath = os.Getenv("HARVEST_CHROME_PATH")
	}
	return runCfg, browserCfg, navTimeout
}

// buildSinks assembles the configured sinks; nil means no sink at all.
func buildSinks() (store.Sink, error) {
	var sinks store.Multi
	if runFlags.dbPath != "" {
		s, err := store.Open(runFlags.dbPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if runFlags.outPath != "" {
		s, err := store.OpenJSONL(runFlags.outPath)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func printSummary(res *run.Result) {
	fmt.Printf("run %s: %s (%d/%d tasks succeeded)\n",
		res.RunID, res.Status(), res.Succeeded(), len(res.Outcomes))
	for _, o := range res.Outcomes {
		if o.Status == run.Succeeded {
			fmt.Printf("  PASS %-24s attempts=%d fields=%d\n", o.Task.Name, o.Attempts, len(o.Record.Fields))
			continue
		}
		fmt.Printf("  FAIL %-24s attempts=%d %s: %v\n", o.Task.Name, o.Attempts, o.Status, o.Err)
	}
}
