package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/vizloop/internal/config"
	"github.com/fyrsmithlabs/vizloop/internal/events"
	"github.com/fyrsmithlabs/vizloop/internal/monitor"
)

var (
	watchNATSURL string
	watchPrefix  string
)

// watchCmd follows a run live from its published events
var watchCmd = &cobra.Command{
	Use:   "watch [run-id]",
	Short: "Follow a running loop in a terminal dashboard",
	Long: `Subscribe to the run events a loop publishes on NATS and render phase,
score history and progress toward the target.

Without a run id the first run seen is followed.

Examples:
  vizloop watch --nats-url nats://127.0.0.1:4222
  vizloop watch 20260101-120000-1a2b3c4d --config vizloop.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchNATSURL, "nats-url", "", "NATS server URL (defaults to events.nats_url)")
	watchCmd.Flags().StringVar(&watchPrefix, "prefix", "", "event subject prefix (defaults to events.subject_prefix)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	url, prefix := cfg.Events.NATSURL, cfg.Events.SubjectPrefix
	if watchNATSURL != "" {
		url = watchNATSURL
	}
	if watchPrefix != "" {
		prefix = watchPrefix
	}
	if url == "" {
		return fmt.Errorf("a NATS URL is required (--nats-url or events.nats_url)")
	}

	var runID string
	if len(args) == 1 {
		runID = args[0]
	}

	nc, err := nats.Connect(url, nats.Name("vizloop-watch"))
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer nc.Close()

	ch, stop, err := events.Subscribe(nc, prefix, runID)
	if err != nil {
		return err
	}
	defer func() { _ = stop() }()

	model := monitor.NewModel(monitor.Config{
		RunID:         runID,
		TargetScore:   cfg.Run.TargetScore,
		MaxIterations: cfg.Run.MaxIterations,
	}, ch)

	p := tea.NewProgram(model, tea.WithContext(cmd.Context()), tea.WithOutput(cmd.OutOrStdout()))
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	if m, ok := final.(monitor.Model); ok && m.Done() {
		fmt.Fprintf(cmd.OutOrStdout(), "Run finished: %s\n", m.Status())
	}
	return nil
}
