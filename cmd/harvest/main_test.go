package main

import (
	"errors"
	"testing"
	"time"

	"harvest/internal/task"
)

func TestBuildConfig_FileFillsUnsetFlags(t *testing.T) {
	headless := false
	settings := task.Settings{
		Workers:     4,
		MaxAttempts: 5,
		BaseDelay:   task.Duration(2 * time.Second),
		NavTimeout:  task.Duration(20 * time.Second),
		Headless:    &headless,
		ProxyURL:    "http://proxy:3128",
	}

	runCfg, browserCfg, navTimeout := buildConfig(runCmd, settings)
	if runCfg.Workers != 4 {
		t.Errorf("workers = %d, want file value 4", runCfg.Workers)
	}
	if runCfg.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want file value 5", runCfg.MaxAttempts)
	}
	if runCfg.BaseDelay != 2*time.Second {
		t.Errorf("base delay = %v", runCfg.BaseDelay)
	}
	if navTimeout != 20*time.Second {
		t.Errorf("nav timeout = %v", navTimeout)
	}
	if browserCfg.Headless {
		t.Error("file headless=false not applied")
	}
	if browserCfg.ProxyURL != "http://proxy:3128" {
		t.Errorf("proxy = %q", browserCfg.ProxyURL)
	}
}

func TestBuildConfig_ExplicitFlagBeatsFile(t *testing.T) {
	if err := runCmd.Flags().Set("workers", "2"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		runFlags.workers = 1
		runCmd.Flags().Lookup("workers").Changed = false
	})

	runCfg, _, _ := buildConfig(runCmd, task.Settings{Workers: 8})
	if runCfg.Workers != 2 {
		t.Errorf("workers = %d, want flag value 2", runCfg.Workers)
	}
}

func TestExitError(t *testing.T) {
	var ee exitError
	err := error(exitError{code: 2})
	if !errors.As(err, &ee) || ee.code != 2 {
		t.Errorf("exitError round trip: %v", err)
	}
	if ee.Error() != "exit status 2" {
		t.Errorf("message = %q", ee.Error())
	}
}
