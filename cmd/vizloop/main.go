// Package main implements the vizloop CLI: it runs the improvement loop
// against a web project and lets an operator follow and steer a run.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML configuration file; empty uses defaults and env.
	configPath string
	// version information (set via ldflags during build)
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vizloop",
	Short: "Iteratively improve a web UI from screenshots",
	Long: `vizloop captures a running web page, asks a vision model what to improve,
applies the proposed code changes, verifies the build and keeps only the
changes that raise the page's score.

Configuration is read from --config (YAML) and VIZLOOP_ environment
variables, for example VIZLOOP_RUN_MAX_ITERATIONS=3.`,
	Version:      version + " (" + gitCommit + ")",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the vizloop YAML config")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(watchCmd)
}
