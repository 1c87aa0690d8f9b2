package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/approval"
	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/config"
	apihttp "github.com/fyrsmithlabs/vizloop/internal/http"
	"github.com/fyrsmithlabs/vizloop/internal/memory"
	"github.com/fyrsmithlabs/vizloop/internal/runlog"
)

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetContext(context.Background())
	return cmd, &out
}

func bufioReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func runFlagsCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	addRunFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
		assert.NotEmpty(t, c.Short, "%s needs a short description", c.Name())
	}
	for _, want := range []string{"run", "pending", "approve", "deny", "respond", "memory", "report", "watch"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestRunCmd_Flags(t *testing.T) {
	for _, name := range []string{"max-iterations", "target-score", "run-id", "url", "quiet"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestNewRunID(t *testing.T) {
	id := newRunID(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^20260304-050607-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, newRunID(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)))
}

func TestLoadRunConfig(t *testing.T) {
	root := t.TempDir()
	t.Setenv("VIZLOOP_PROVIDER_API_KEY", "test-key")

	oldPath := configPath
	configPath = ""
	defer func() { configPath = oldPath }()

	cmd := runFlagsCommand(t, "--max-iterations", "2", "--url", "http://localhost:5173", "--run-id", "r1")

	cfg, err := loadRunConfig(cmd, []string{root})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Run.MaxIterations)
	assert.Equal(t, "http://localhost:5173", cfg.Run.TargetURL)
	assert.Equal(t, "r1", cfg.Run.RunID)
	assert.Equal(t, root, cfg.Run.ProjectRoot)
	assert.Equal(t, 8.5, cfg.Run.TargetScore, "unset flags keep the configured value")

	t.Run("missing target url", func(t *testing.T) {
		_, err := loadRunConfig(runFlagsCommand(t), []string{root})
		assert.ErrorContains(t, err, "run.target_url")
	})
}

func TestNewApprover(t *testing.T) {
	logger := zap.NewNop()
	base := config.Default().Approval

	t.Run("policy", func(t *testing.T) {
		cfg := base
		cfg.Channel = config.ChannelPolicy
		a, closeFn, err := newApprover(cfg, t.TempDir(), logger)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, approval.PolicyApprover{}, a)
	})

	t.Run("file defaults to the run directory", func(t *testing.T) {
		cfg := base
		cfg.Channel = config.ChannelFile
		dir := filepath.Join(t.TempDir(), "approvals")
		a, closeFn, err := newApprover(cfg, dir, logger)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &approval.FileApprover{}, a)
		assert.DirExists(t, dir)
	})

	t.Run("http serves pending requests", func(t *testing.T) {
		cfg := base
		cfg.Channel = config.ChannelHTTP
		cfg.HTTPAddr = "127.0.0.1:0"
		a, closeFn, err := newApprover(cfg, t.TempDir(), logger)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &approval.ChannelApprover{}, a)
	})

	t.Run("http address already in use", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		cfg := base
		cfg.Channel = config.ChannelHTTP
		cfg.HTTPAddr = ln.Addr().String()
		a, _, err := newApprover(cfg, t.TempDir(), logger)
		assert.ErrorContains(t, err, "binding approval server")
		assert.Nil(t, a)
	})

	t.Run("bad http address", func(t *testing.T) {
		cfg := base
		cfg.Channel = config.ChannelHTTP
		cfg.HTTPAddr = "nonsense"
		_, _, err := newApprover(cfg, t.TempDir(), logger)
		assert.Error(t, err)
	})

	t.Run("unknown channel", func(t *testing.T) {
		cfg := base
		cfg.Channel = "pigeon"
		_, _, err := newApprover(cfg, t.TempDir(), logger)
		assert.ErrorContains(t, err, "pigeon")
	})
}

func TestNewPublisher_WithoutURL(t *testing.T) {
	p := newPublisher(config.EventsConfig{}, zap.NewNop())
	assert.NoError(t, p.Close())
}

func TestPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/approvals", r.URL.Path)
		_ = json.NewEncoder(w).Encode(apihttp.PendingResponse{Requests: []approval.Request{{
			ID:            "req-1",
			RunID:         "run-1",
			Iteration:     2,
			Risk:          approval.RiskMedium,
			RiskPoints:    4,
			EstimatedCost: 0.0123,
			Recommendations: []changeset.Recommendation{
				{Title: "Increase contrast", Dimension: "color_contrast", Impact: 7, Effort: 2},
			},
		}}})
	}))
	defer server.Close()

	oldURL := serverURL
	serverURL = server.URL
	defer func() { serverURL = oldURL }()

	cmd, out := testCommand()
	require.NoError(t, runPending(cmd, nil))
	assert.Contains(t, out.String(), "req-1")
	assert.Contains(t, out.String(), "run-1 (iteration 2)")
	assert.Contains(t, out.String(), "medium")
	assert.Contains(t, out.String(), "$0.0123")
	assert.Contains(t, out.String(), "Increase contrast")
}

func TestPending_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	oldURL := serverURL
	serverURL = server.URL
	defer func() { serverURL = oldURL }()

	cmd, _ := testCommand()
	err := runPending(cmd, nil)
	assert.ErrorContains(t, err, "status 500")
}

func TestDecide_HTTP(t *testing.T) {
	var got apihttp.DecisionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/approvals/req-1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	oldURL, oldNote := serverURL, decisionNote
	serverURL, decisionNote = server.URL, "too risky"
	defer func() { serverURL, decisionNote = oldURL, oldNote }()

	cmd, out := testCommand()
	require.NoError(t, runDecide(cmd, "req-1", false))
	require.NotNil(t, got.Approved)
	assert.False(t, *got.Approved)
	assert.Equal(t, "too risky", got.Reason)
	assert.Contains(t, out.String(), "denied req-1")
}

func TestDecide_UnknownRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	oldURL := serverURL
	serverURL = server.URL
	defer func() { serverURL = oldURL }()

	cmd, _ := testCommand()
	assert.ErrorContains(t, runDecide(cmd, "missing", true), "status 404")
}

func TestDecide_FileChannel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "req-2.request.json"), []byte(`{"id":"req-2"}`), 0o600))

	oldDir := decisionDir
	decisionDir = dir
	defer func() { decisionDir = oldDir }()

	cmd, out := testCommand()
	require.NoError(t, runDecide(cmd, "req-2", true))
	assert.FileExists(t, filepath.Join(dir, "req-2.decision.json"))
	assert.Contains(t, out.String(), "approved req-2")

	assert.ErrorIs(t, runDecide(cmd, "req-3", true), approval.ErrUnknownRequest)
}

func TestPrompter(t *testing.T) {
	var out bytes.Buffer
	p := &prompter{in: bufioReader("y\nno\n"), out: &out}

	req := approval.Request{ID: "req-1", Risk: approval.RiskHigh}
	d := p.decide(req)
	assert.True(t, d.Approved)
	assert.Equal(t, approval.SourceOperator, d.Source)

	d = p.decide(req)
	assert.False(t, d.Approved)
	assert.Contains(t, out.String(), "Approve? [y/N]")
}

func TestMemoryCommand(t *testing.T) {
	dir := t.TempDir()
	st := memory.New()
	st.RecordAttempt(changeset.Recommendation{Title: "Tighten spacing"}, 0, memory.StatusSuccess, []string{"src/App.tsx"}, "")
	st.RecordScore(memory.NewScoreEntry(0, 6.0, 6.8))
	require.NoError(t, memory.Save(filepath.Join(dir, memory.FileName), st))

	cmd, out := testCommand()
	require.NoError(t, runMemory(cmd, []string{dir}))
	assert.Contains(t, out.String(), "Tighten spacing")
	assert.Contains(t, out.String(), "ITERATION MEMORY")

	assert.Error(t, runMemory(cmd, []string{filepath.Join(dir, "nope.json")}))
}

func TestReportCommand(t *testing.T) {
	base := t.TempDir()
	rl, err := runlog.Open(base, "run-1", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, rl.WriteReport(&runlog.Report{
		RunID:           "run-1",
		Status:          runlog.StatusCompleted,
		TargetURL:       "http://localhost:3000",
		StartingScore:   6.0,
		FinalScore:      8.1,
		Improvement:     2.1,
		TargetScore:     8.0,
		TargetReached:   true,
		TotalIterations: 2,
		MaxIterations:   5,
		BestIteration:   1,
		BestScore:       8.1,
		Duration:        90 * time.Second,
	}))

	cmd, out := testCommand()
	require.NoError(t, runReport(cmd, []string{rl.Dir()}))
	assert.Contains(t, out.String(), "run-1")
	assert.Contains(t, out.String(), "completed")
	assert.Contains(t, out.String(), "6.00 → 8.10")
	assert.Contains(t, out.String(), "reached")
	assert.Contains(t, out.String(), "2 of 5")

	oldMarkdown := reportMarkdown
	reportMarkdown = true
	defer func() { reportMarkdown = oldMarkdown }()
	out.Reset()
	require.NoError(t, runReport(cmd, []string{rl.Dir()}))
	assert.Contains(t, out.String(), "# Run run-1")
}

func TestRenderReport_Failure(t *testing.T) {
	view := renderReport(&runlog.Report{
		RunID:         "run-2",
		Status:        runlog.StatusFailed,
		BestIteration: -1,
		Error:         "iteration 0 approving: approval denied",
		Deviations:    []string{"retries enabled"},
	})
	assert.Contains(t, view, "failed")
	assert.Contains(t, view, "not reached")
	assert.Contains(t, view, "approval denied")
	assert.Contains(t, view, "retries enabled")
	assert.NotContains(t, view, "Best")
}
