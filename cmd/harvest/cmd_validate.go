package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"harvest/internal/task"
)

var validateFlags struct {
	tasksPath string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a task file without opening a browser",
	Long: `Validate parses a YAML task file and applies the same instruction
checks the run command applies at load time. Nothing is navigated.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.StringVarP(&validateFlags.tasksPath, "tasks", "f", "", "Path to the YAML task file (required)")
	_ = validateCmd.MarkFlagRequired("tasks")
}

func runValidate(_ *cobra.Command, _ []string) error {
	file, err := task.Load(validateFlags.tasksPath)
	if err != nil {
		return err
	}
	fields := 0
	for _, t := range file.Tasks {
		fields += len(t.Fields)
	}
	fmt.Printf("%s: ok (%d tasks, %d fields)\n", validateFlags.tasksPath, len(file.Tasks), fields)
	return nil
}
