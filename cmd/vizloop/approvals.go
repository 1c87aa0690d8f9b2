package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/vizloop/internal/approval"
	"github.com/fyrsmithlabs/vizloop/internal/config"
	apihttp "github.com/fyrsmithlabs/vizloop/internal/http"
)

var (
	// serverURL is the base URL of a running loop's approval server
	serverURL string
	// decisionDir writes file-channel decisions instead of calling the server
	decisionDir   string
	decisionNote  string
	respondURL    string
	respondSubj   string
	requestClient = &http.Client{Timeout: 30 * time.Second}
)

// pendingCmd lists approval requests waiting on an operator
var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List approval requests waiting for a decision",
	Long: `List the approval requests a running loop is waiting on.

Examples:
  vizloop pending
  vizloop pending --server http://127.0.0.1:7070`,
	Args: cobra.NoArgs,
	RunE: runPending,
}

// approveCmd approves a pending request
var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending change set",
	Long: `Approve a pending approval request.

With --dir the decision is written for the file channel instead of being
sent to the approval server.

Examples:
  vizloop approve 5f0c... --reason "looks good"
  vizloop approve 5f0c... --dir .vizloop/runs/<run-id>/approvals`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(cmd, args[0], true)
	},
}

// denyCmd denies a pending request
var denyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Deny a pending change set, ending the run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(cmd, args[0], false)
	},
}

// respondCmd answers NATS approval requests interactively
var respondCmd = &cobra.Command{
	Use:   "respond",
	Short: "Answer approval requests published on NATS",
	Long: `Subscribe to the approval subject and prompt for each request.

Examples:
  vizloop respond --nats-url nats://127.0.0.1:4222`,
	Args: cobra.NoArgs,
	RunE: runRespond,
}

func init() {
	for _, c := range []*cobra.Command{pendingCmd, approveCmd, denyCmd} {
		c.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:7070", "approval server URL")
	}
	for _, c := range []*cobra.Command{approveCmd, denyCmd} {
		c.Flags().StringVar(&decisionNote, "reason", "", "reason recorded with the decision")
		c.Flags().StringVar(&decisionDir, "dir", "", "write the decision into this file-channel directory")
	}
	respondCmd.Flags().StringVar(&respondURL, "nats-url", "", "NATS server URL (defaults to approval.nats_url)")
	respondCmd.Flags().StringVar(&respondSubj, "subject", "", "approval subject (defaults to approval.nats_subject)")
}

func runPending(cmd *cobra.Command, _ []string) error {
	resp, err := requestClient.Get(strings.TrimRight(serverURL, "/") + "/api/v1/approvals")
	if err != nil {
		return fmt.Errorf("failed to connect to approval server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pending apihttp.PendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(pending.Requests) == 0 {
		fmt.Fprintln(out, dimStyle.Render("No pending approval requests"))
		return nil
	}
	for _, req := range pending.Requests {
		fmt.Fprintln(out, renderRequest(req))
	}
	return nil
}

func runDecide(cmd *cobra.Command, id string, approved bool) error {
	d := approval.Decision{
		Approved:  approved,
		Reason:    decisionNote,
		Source:    approval.SourceOperator,
		DecidedAt: time.Now().UTC(),
	}

	if decisionDir != "" {
		if err := approval.WriteDecision(decisionDir, id, d); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verdict(approved), id)
		return nil
	}

	body, err := json.Marshal(apihttp.DecisionRequest{Approved: &approved, Reason: decisionNote})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/api/v1/approvals/%s", strings.TrimRight(serverURL, "/"), id)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := requestClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to approval server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verdict(approved), id)
	return nil
}

func runRespond(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	url, subject := cfg.Approval.NATSURL, cfg.Approval.NATSSubject
	if respondURL != "" {
		url = respondURL
	}
	if respondSubj != "" {
		subject = respondSubj
	}
	if url == "" {
		return fmt.Errorf("a NATS URL is required (--nats-url or approval.nats_url)")
	}

	nc, err := nats.Connect(url, nats.Name("vizloop-respond"))
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer nc.Close()

	prompter := &prompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
	sub, err := approval.ServeNATS(nc, subject, prompter.decide)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	fmt.Fprintf(cmd.OutOrStdout(), "Waiting for approval requests on %s (Ctrl+C to stop)\n", subject)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}

// prompter asks the operator about each request on a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) decide(req approval.Request) approval.Decision {
	fmt.Fprintln(p.out, renderRequest(req))
	fmt.Fprint(p.out, "Approve? [y/N] ")

	line, _ := p.in.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	d := approval.Decision{Source: approval.SourceOperator, DecidedAt: time.Now().UTC()}
	if answer == "y" || answer == "yes" {
		d.Approved = true
		d.Reason = "approved at terminal"
	} else {
		d.Reason = "denied at terminal"
	}
	fmt.Fprintln(p.out, verdict(d.Approved))
	return d
}

func verdict(approved bool) string {
	if approved {
		return goodStyle.Render("approved")
	}
	return badStyle.Render("denied")
}

// renderRequest formats one approval request for the terminal.
func renderRequest(req approval.Request) string {
	lines := []string{
		titleStyle.Render(" " + req.ID + " "),
		row("Run", valueStyle.Render(fmt.Sprintf("%s (iteration %d)", req.RunID, req.Iteration))),
		row("Risk", riskText(req.Risk)+dimStyle.Render(fmt.Sprintf("  %d points", req.RiskPoints))),
		row("Est. cost", valueStyle.Render(fmt.Sprintf("$%.4f", req.EstimatedCost))),
	}
	if !req.Deadline.IsZero() {
		lines = append(lines, row("Deadline", dimStyle.Render(req.Deadline.Local().Format(time.Kitchen))))
	}
	for i, rec := range req.Recommendations {
		line := fmt.Sprintf("%d. %s", i+1, rec.Title)
		if rec.Dimension != "" {
			line += dimStyle.Render(fmt.Sprintf("  [%s, impact %d, effort %d]", rec.Dimension, rec.Impact, rec.Effort))
		}
		lines = append(lines, "  "+line)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func riskText(r approval.Risk) string {
	switch r {
	case approval.RiskLow:
		return goodStyle.Render(string(r))
	case approval.RiskMedium:
		return warnStyle.Render(string(r))
	default:
		return badStyle.Render(string(r))
	}
}
