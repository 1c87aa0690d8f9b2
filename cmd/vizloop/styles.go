package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/vizloop/internal/runlog"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Width(16)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	goodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func statusText(s runlog.Status) string {
	switch s {
	case runlog.StatusCompleted:
		return goodStyle.Render("✓ " + string(s))
	case runlog.StatusCancelled, runlog.StatusRunning:
		return warnStyle.Render("⚠ " + string(s))
	default:
		return badStyle.Render("✗ " + string(s))
	}
}

// renderReport formats a run report for the terminal.
func renderReport(r *runlog.Report) string {
	lines := []string{
		titleStyle.Render(" vizloop run " + r.RunID + " "),
		"",
		row("Status", statusText(r.Status)),
		row("Target URL", valueStyle.Render(r.TargetURL)),
		row("Score", valueStyle.Render(fmt.Sprintf("%.2f → %.2f", r.StartingScore, r.FinalScore))+
			"  "+dimStyle.Render(fmt.Sprintf("(%+.2f)", r.Improvement))),
	}

	target := fmt.Sprintf("%.2f", r.TargetScore)
	if r.TargetReached {
		lines = append(lines, row("Target", goodStyle.Render(target+" reached")))
	} else {
		lines = append(lines, row("Target", dimStyle.Render(target+" not reached")))
	}
	lines = append(lines, row("Iterations", valueStyle.Render(fmt.Sprintf("%d of %d", r.TotalIterations, r.MaxIterations))))
	if r.BestIteration >= 0 {
		lines = append(lines, row("Best", valueStyle.Render(fmt.Sprintf("iteration %d (%.2f)", r.BestIteration, r.BestScore))))
	}
	lines = append(lines, row("Duration", dimStyle.Render(r.Duration.Round(time.Second).String())))
	if r.Error != "" {
		lines = append(lines, row("Error", badStyle.Render(r.Error)))
	}
	for _, d := range r.Deviations {
		lines = append(lines, row("Deviation", warnStyle.Render(d)))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
