// Package config loads vizloop configuration from a YAML file and
// VIZLOOP_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fyrsmithlabs/vizloop/internal/approval"
	"github.com/fyrsmithlabs/vizloop/internal/events"
	"github.com/fyrsmithlabs/vizloop/internal/logging"
	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
	"github.com/fyrsmithlabs/vizloop/internal/provider"
	"github.com/fyrsmithlabs/vizloop/internal/retry"
	"github.com/fyrsmithlabs/vizloop/internal/scoring"
	"github.com/fyrsmithlabs/vizloop/internal/secrets"
	"github.com/fyrsmithlabs/vizloop/internal/telemetry"
)

// Approval channels.
const (
	ChannelPolicy = "policy"
	ChannelHTTP   = "http"
	ChannelNATS   = "nats"
	ChannelFile   = "file"
)

// Config is the complete vizloop configuration.
type Config struct {
	Run       RunConfig         `koanf:"run"`
	Viewport  pipeline.Viewport `koanf:"viewport"`
	Provider  provider.Config   `koanf:"provider"`
	Secrets   secrets.Config    `koanf:"secrets"`
	Approval  ApprovalConfig    `koanf:"approval"`
	Verify    VerifyConfig      `koanf:"verify"`
	Backend   BackendConfig     `koanf:"backend"`
	Scoring   ScoringConfig     `koanf:"scoring"`
	Memory    MemoryConfig      `koanf:"memory"`
	Capture   CaptureConfig     `koanf:"capture"`
	Retry     retry.Config      `koanf:"retry"`
	Events    EventsConfig      `koanf:"events"`
	Logging   logging.Config    `koanf:"logging"`
	Telemetry telemetry.Config  `koanf:"telemetry"`
}

// RunConfig bounds one run. An existing RunID resumes that run's memory.
type RunConfig struct {
	ProjectRoot   string        `koanf:"project_root"`
	TargetURL     string        `koanf:"target_url"`
	OutputDir     string        `koanf:"output_dir"`
	RunID         string        `koanf:"run_id"`
	MaxIterations int           `koanf:"max_iterations"`
	TargetScore   float64       `koanf:"target_score"`
	SettleDelay   time.Duration `koanf:"settle_delay"`
}

// ApprovalConfig configures the approval gate and the channel its
// approver listens on.
type ApprovalConfig struct {
	Mode            approval.Mode `koanf:"mode"`
	Channel         string        `koanf:"channel"`
	Timeout         time.Duration `koanf:"timeout"`
	TimeoutDecision string        `koanf:"timeout_decision"`
	MaxAutoRisk     string        `koanf:"max_auto_risk"`
	MaxAutoCost     float64       `koanf:"max_auto_cost"`
	HTTPAddr        string        `koanf:"http_addr"`
	NATSURL         string        `koanf:"nats_url"`
	NATSSubject     string        `koanf:"nats_subject"`
	FileDir         string        `koanf:"file_dir"`
}

// VerifyConfig configures build verification and rollback.
type VerifyConfig struct {
	BuildCommands           []string      `koanf:"build_commands"`
	Timeout                 time.Duration `koanf:"timeout"`
	RemoveCreatedOnRollback bool          `koanf:"remove_created_on_rollback"`
	AllowedCommands         []string      `koanf:"allowed_commands"`
}

// BackendConfig describes the optional companion backend process.
type BackendConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Command        string        `koanf:"command"`
	Args           []string      `koanf:"args"`
	WorkDir        string        `koanf:"work_dir"`
	Env            []string      `koanf:"env"`
	HealthURL      string        `koanf:"health_url"`
	StartupTimeout time.Duration `koanf:"startup_timeout"`
	GracePeriod    time.Duration `koanf:"grace_period"`
}

// ScoringConfig blends the vision score with an optional metrics command.
type ScoringConfig struct {
	VisionWeight   float64       `koanf:"vision_weight"`
	MetricsWeight  float64       `koanf:"metrics_weight"`
	MetricsCommand string        `koanf:"metrics_command"`
	MetricsTimeout time.Duration `koanf:"metrics_timeout"`
}

// Weights returns the blend weights.
func (s ScoringConfig) Weights() scoring.Weights {
	return scoring.Weights{Vision: s.VisionWeight, Metrics: s.MetricsWeight}
}

// MemoryConfig tunes the avoid heuristic.
type MemoryConfig struct {
	AvoidThreshold int `koanf:"avoid_threshold"`
}

// CaptureConfig holds the screenshot command template. The template may use
// {url}, {out}, {width} and {height}.
type CaptureConfig struct {
	Command string        `koanf:"command"`
	Timeout time.Duration `koanf:"timeout"`
}

// EventsConfig enables run event publishing when NATSURL is set.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg := &Config{
		Run: RunConfig{
			OutputDir:     ".vizloop/runs",
			MaxIterations: 5,
			TargetScore:   8.5,
			SettleDelay:   3 * time.Second,
		},
		Viewport: pipeline.Viewport{Width: 1280, Height: 800},
		Provider: provider.Config{Name: provider.Anthropic},
		Secrets:  secrets.DefaultConfig(),
		Approval: ApprovalConfig{
			Mode:            approval.ModeThreshold,
			Channel:         ChannelHTTP,
			Timeout:         10 * time.Minute,
			TimeoutDecision: "deny",
			MaxAutoRisk:     string(approval.RiskLow),
			MaxAutoCost:     0.50,
			HTTPAddr:        "127.0.0.1:7070",
			NATSSubject:     "vizloop.approvals",
		},
		Verify: VerifyConfig{
			Timeout: 5 * time.Minute,
		},
		Backend: BackendConfig{
			StartupTimeout: 30 * time.Second,
			GracePeriod:    5 * time.Second,
		},
		Scoring: ScoringConfig{
			VisionWeight:   0.6,
			MetricsWeight:  0.4,
			MetricsTimeout: 2 * time.Minute,
		},
		Memory: MemoryConfig{AvoidThreshold: 5},
		Capture: CaptureConfig{
			Command: "npx playwright screenshot --viewport-size={width},{height} {url} {out}",
			Timeout: 60 * time.Second,
		},
		Retry:     retry.DefaultConfig(),
		Events:    EventsConfig{SubjectPrefix: events.DefaultSubjectPrefix},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
	cfg.Secrets.Gitleaks = true
	return cfg
}

// Validate checks ranges and enumerations. It does not require the fields
// only a run needs; see ValidateForRun.
func (c *Config) Validate() error {
	var errs []error

	if c.Run.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("run.max_iterations must be >= 1, got %d", c.Run.MaxIterations))
	}
	if c.Run.TargetScore <= 0 || c.Run.TargetScore > scoring.MaxScore {
		errs = append(errs, fmt.Errorf("run.target_score must be in (0, %g], got %g", scoring.MaxScore, c.Run.TargetScore))
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		errs = append(errs, fmt.Errorf("viewport must be positive, got %dx%d", c.Viewport.Width, c.Viewport.Height))
	}
	switch c.Provider.Name {
	case "", provider.Anthropic, provider.OpenAI:
	default:
		errs = append(errs, fmt.Errorf("provider.name must be %q or %q, got %q", provider.Anthropic, provider.OpenAI, c.Provider.Name))
	}

	if !c.Approval.Mode.Valid() {
		errs = append(errs, fmt.Errorf("approval.mode must be always, threshold or auto, got %q", c.Approval.Mode))
	}
	switch c.Approval.Channel {
	case ChannelPolicy, ChannelHTTP, ChannelNATS, ChannelFile:
	default:
		errs = append(errs, fmt.Errorf("approval.channel must be policy, http, nats or file, got %q", c.Approval.Channel))
	}
	if c.Approval.Channel == ChannelNATS && c.Approval.NATSURL == "" {
		errs = append(errs, errors.New("approval.nats_url is required for the nats channel"))
	}
	if c.Approval.Channel == ChannelHTTP {
		if _, _, err := net.SplitHostPort(c.Approval.HTTPAddr); err != nil {
			errs = append(errs, fmt.Errorf("approval.http_addr: %w", err))
		}
	}
	if c.Approval.TimeoutDecision != "deny" && c.Approval.TimeoutDecision != "approve" {
		errs = append(errs, fmt.Errorf("approval.timeout_decision must be deny or approve, got %q", c.Approval.TimeoutDecision))
	}
	if _, err := approval.ParseRisk(c.Approval.MaxAutoRisk); err != nil {
		errs = append(errs, fmt.Errorf("approval.max_auto_risk: %w", err))
	}
	if c.Approval.MaxAutoCost < 0 {
		errs = append(errs, fmt.Errorf("approval.max_auto_cost must be >= 0, got %g", c.Approval.MaxAutoCost))
	}

	if c.Scoring.VisionWeight < 0 || c.Scoring.MetricsWeight < 0 || c.Scoring.VisionWeight+c.Scoring.MetricsWeight == 0 {
		errs = append(errs, errors.New("scoring weights must be non-negative and not both zero"))
	}
	if c.Memory.AvoidThreshold < 1 {
		errs = append(errs, fmt.Errorf("memory.avoid_threshold must be >= 1, got %d", c.Memory.AvoidThreshold))
	}
	if c.Backend.Enabled && c.Backend.Command == "" {
		errs = append(errs, errors.New("backend.command is required when the backend is enabled"))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if c.Logging.Output.OTEL && (!c.Telemetry.Enabled || !c.Telemetry.LogsEnabled) {
		errs = append(errs, errors.New("logging.output.otel requires telemetry.enabled and telemetry.logs_enabled"))
	}
	return errors.Join(errs...)
}

// ValidateForRun additionally requires what starting a run needs.
func (c *Config) ValidateForRun() error {
	var errs []error
	if c.Run.ProjectRoot == "" {
		errs = append(errs, errors.New("run.project_root is required"))
	}
	if c.Run.TargetURL == "" {
		errs = append(errs, errors.New("run.target_url is required"))
	}
	if c.Capture.Command == "" {
		errs = append(errs, errors.New("capture.command is required"))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("provider.api_key is required (or set ANTHROPIC_API_KEY / OPENAI_API_KEY)"))
	}
	return errors.Join(errs...)
}

// GateConfig maps the approval section onto the gate's configuration.
func (a ApprovalConfig) GateConfig(runID string) approval.Config {
	risk, err := approval.ParseRisk(a.MaxAutoRisk)
	if err != nil {
		risk = approval.RiskLow
	}
	return approval.Config{
		Mode:             a.Mode,
		Timeout:          a.Timeout,
		ApproveOnTimeout: a.TimeoutDecision == "approve",
		MaxAutoRisk:      risk,
		MaxAutoCost:      a.MaxAutoCost,
		RunID:            runID,
	}
}
