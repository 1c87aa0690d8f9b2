package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/vizloop/internal/memory"
	"github.com/fyrsmithlabs/vizloop/internal/runlog"
)

var (
	memoryAvoidThreshold int
	reportMarkdown       bool
)

// memoryCmd prints the iteration memory of a run
var memoryCmd = &cobra.Command{
	Use:   "memory <run-dir|memory.json>",
	Short: "Show what a run has learned",
	Long: `Print the iteration memory of a run: attempts, failures, score trend and
the components later iterations avoid.

Examples:
  vizloop memory .vizloop/runs/20260101-120000-1a2b3c4d`,
	Args: cobra.ExactArgs(1),
	RunE: runMemory,
}

// reportCmd prints the final report of a run
var reportCmd = &cobra.Command{
	Use:   "report <run-dir>",
	Short: "Show the report of a finished run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	memoryCmd.Flags().IntVar(&memoryAvoidThreshold, "avoid-threshold", memory.DefaultAvoidThreshold, "modifications before a component can be avoided")
	reportCmd.Flags().BoolVar(&reportMarkdown, "markdown", false, "print the markdown summary")
}

// memoryPath accepts a run directory or the memory file itself.
func memoryPath(arg string) string {
	if info, err := os.Stat(arg); err == nil && info.IsDir() {
		return filepath.Join(arg, memory.FileName)
	}
	return arg
}

func runMemory(cmd *cobra.Command, args []string) error {
	path := memoryPath(args[0])
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no memory at %s: %w", path, err)
	}
	st, err := memory.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render(" memory "+path+" "))
	fmt.Fprintln(cmd.OutOrStdout(), st.ContextSummary(memoryAvoidThreshold))
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	report, err := runlog.ReadReport(args[0])
	if err != nil {
		return err
	}
	if reportMarkdown {
		fmt.Fprint(cmd.OutOrStdout(), runlog.FormatSummary(report))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
	return nil
}
