package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vizloop/internal/approval"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Run.MaxIterations)
	assert.Equal(t, 8.5, cfg.Run.TargetScore)
	assert.Equal(t, approval.ModeThreshold, cfg.Approval.Mode)
	assert.Equal(t, "deny", cfg.Approval.TimeoutDecision)
	assert.Equal(t, 1, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Verify.RemoveCreatedOnRollback)
	assert.True(t, cfg.Secrets.Enabled)
	assert.True(t, cfg.Secrets.Gitleaks)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"zero iterations", func(c *Config) { c.Run.MaxIterations = 0 }, "run.max_iterations"},
		{"target above scale", func(c *Config) { c.Run.TargetScore = 11 }, "run.target_score"},
		{"bad viewport", func(c *Config) { c.Viewport.Width = 0 }, "viewport"},
		{"unknown provider", func(c *Config) { c.Provider.Name = "llama" }, "provider.name"},
		{"unknown mode", func(c *Config) { c.Approval.Mode = "sometimes" }, "approval.mode"},
		{"unknown channel", func(c *Config) { c.Approval.Channel = "email" }, "approval.channel"},
		{"nats without url", func(c *Config) { c.Approval.Channel = ChannelNATS }, "approval.nats_url"},
		{"bad http addr", func(c *Config) { c.Approval.HTTPAddr = "7070" }, "approval.http_addr"},
		{"bad timeout decision", func(c *Config) { c.Approval.TimeoutDecision = "maybe" }, "approval.timeout_decision"},
		{"bad risk", func(c *Config) { c.Approval.MaxAutoRisk = "extreme" }, "approval.max_auto_risk"},
		{"zero weights", func(c *Config) { c.Scoring.VisionWeight = 0; c.Scoring.MetricsWeight = 0 }, "scoring weights"},
		{"backend without command", func(c *Config) { c.Backend.Enabled = true }, "backend.command"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging"},
		{"otel logs without telemetry", func(c *Config) { c.Logging.Output.OTEL = true }, "logging.output.otel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_OTELLogsWithTelemetry(t *testing.T) {
	cfg := Default()
	cfg.Logging.Output.OTEL = true
	cfg.Logging.Output.Console = false
	cfg.Telemetry.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.Telemetry.LogsEnabled = false
	assert.ErrorContains(t, cfg.Validate(), "telemetry.logs_enabled")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Run.MaxIterations = 0
	cfg.Memory.AvoidThreshold = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run.max_iterations")
	assert.Contains(t, err.Error(), "memory.avoid_threshold")
}

func TestValidateForRun(t *testing.T) {
	cfg := Default()
	err := cfg.ValidateForRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run.project_root")
	assert.Contains(t, err.Error(), "run.target_url")
	assert.Contains(t, err.Error(), "provider.api_key")

	cfg.Run.ProjectRoot = "/srv/app"
	cfg.Run.TargetURL = "http://localhost:3000"
	cfg.Provider.APIKey = "k"
	assert.NoError(t, cfg.ValidateForRun())
}

func TestGateConfig(t *testing.T) {
	a := Default().Approval
	a.TimeoutDecision = "approve"
	a.MaxAutoRisk = "medium"

	gc := a.GateConfig("run-1")
	assert.Equal(t, approval.ModeThreshold, gc.Mode)
	assert.True(t, gc.ApproveOnTimeout)
	assert.Equal(t, approval.RiskMedium, gc.MaxAutoRisk)
	assert.Equal(t, 0.5, gc.MaxAutoCost)
	assert.Equal(t, "run-1", gc.RunID)
}

func TestScoringWeights(t *testing.T) {
	w := Default().Scoring.Weights()
	assert.Equal(t, 0.6, w.Vision)
	assert.Equal(t, 0.4, w.Metrics)
}
