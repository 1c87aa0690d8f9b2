package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/approval"
	"github.com/fyrsmithlabs/vizloop/internal/capture"
	"github.com/fyrsmithlabs/vizloop/internal/config"
	"github.com/fyrsmithlabs/vizloop/internal/controller"
	"github.com/fyrsmithlabs/vizloop/internal/events"
	apihttp "github.com/fyrsmithlabs/vizloop/internal/http"
	"github.com/fyrsmithlabs/vizloop/internal/logging"
	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
	"github.com/fyrsmithlabs/vizloop/internal/projectctx"
	"github.com/fyrsmithlabs/vizloop/internal/provider"
	"github.com/fyrsmithlabs/vizloop/internal/runlog"
	"github.com/fyrsmithlabs/vizloop/internal/scoring"
	"github.com/fyrsmithlabs/vizloop/internal/secrets"
	"github.com/fyrsmithlabs/vizloop/internal/supervisor"
	"github.com/fyrsmithlabs/vizloop/internal/telemetry"
	"github.com/fyrsmithlabs/vizloop/internal/verify"
)

const shutdownTimeout = 10 * time.Second

var (
	runMaxIterations int
	runTargetScore   float64
	runRunID         string
	runTargetURL     string
	runQuiet         bool
)

// runCmd runs the improvement loop
var runCmd = &cobra.Command{
	Use:   "run [project-root]",
	Short: "Run the improvement loop against a project",
	Long: `Run the capture, analyze, implement, verify and evaluate loop until the
target score is reached or the iteration budget is spent.

Reusing a --run-id resumes that run from its saved memory.

Examples:
  # Run with a config file
  vizloop run --config vizloop.yaml

  # Override the project and the page to capture
  vizloop run ./web --url http://localhost:5173 --max-iterations 3`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "iteration budget (overrides run.max_iterations)")
	cmd.Flags().Float64Var(&runTargetScore, "target-score", 0, "score that ends the run (overrides run.target_score)")
	cmd.Flags().StringVar(&runRunID, "run-id", "", "run identifier; reuse one to resume")
	cmd.Flags().StringVar(&runTargetURL, "url", "", "page to capture (overrides run.target_url)")
	cmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not print phase progress")
}

// loadRunConfig loads configuration and applies command-line overrides.
func loadRunConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	if len(args) == 1 {
		cfg.Run.ProjectRoot = args[0]
	}
	flags := cmd.Flags()
	if flags.Changed("max-iterations") {
		cfg.Run.MaxIterations = runMaxIterations
	}
	if flags.Changed("target-score") {
		cfg.Run.TargetScore = runTargetScore
	}
	if flags.Changed("run-id") {
		cfg.Run.RunID = runRunID
	}
	if flags.Changed("url") {
		cfg.Run.TargetURL = runTargetURL
	}
	if cfg.Run.ProjectRoot != "" {
		root, err := filepath.Abs(cfg.Run.ProjectRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
		cfg.Run.ProjectRoot = root
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateForRun(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runRun wires every collaborator from configuration and drives one run.
func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Telemetry comes first: the logger tees into its log provider, and its
	// shutdown must run after the final logger sync.
	tel, err := telemetry.New(ctx, &cfg.Telemetry, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	var zl *zap.Logger
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil && zl != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl = logger.Underlying()
	tel.SetLogger(zl)
	if tel.Degraded() {
		zl.Warn("telemetry degraded, some signals are not exported", zap.String("endpoint", cfg.Telemetry.Endpoint))
	}

	runID := cfg.Run.RunID
	if runID == "" {
		runID = newRunID(time.Now())
	}
	rl, err := runlog.Open(cfg.Run.OutputDir, runID, zl)
	if err != nil {
		return err
	}

	pc, err := projectctx.Detect(cfg.Run.ProjectRoot)
	if err != nil {
		return fmt.Errorf("detect project: %w", err)
	}

	deps, cleanup, err := buildDeps(cfg, runID, pc, rl, zl)
	if err != nil {
		return err
	}
	defer cleanup()
	deps.Telemetry = tel

	ctrl, err := controller.New(controller.Config{
		RunID:          runID,
		ProjectRoot:    cfg.Run.ProjectRoot,
		TargetURL:      cfg.Run.TargetURL,
		Viewport:       cfg.Viewport,
		MaxIterations:  cfg.Run.MaxIterations,
		TargetScore:    cfg.Run.TargetScore,
		SettleDelay:    cfg.Run.SettleDelay,
		AvoidThreshold: cfg.Memory.AvoidThreshold,
		ProjectContext: pc.Digest(),
		Retry:          cfg.Retry,
	}, deps, rl, logger)
	if err != nil {
		return err
	}
	if !runQuiet {
		out := cmd.ErrOrStderr()
		ctrl.OnProgress(func(p controller.Progress) {
			line := fmt.Sprintf("[%d] %s", p.Iteration, p.Phase)
			if p.Message != "" {
				line += "  " + p.Message
			}
			if p.Score != nil {
				line += fmt.Sprintf("  score=%.2f", *p.Score)
			}
			fmt.Fprintln(out, dimStyle.Render(line))
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %s writing to %s\n", runID, rl.Dir())
	report, runErr := ctrl.Run(ctx)
	if report != nil {
		fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
	}
	return runErr
}

// buildDeps constructs the controller's collaborators. The returned cleanup
// releases connections and servers in reverse order of creation.
func buildDeps(cfg *config.Config, runID string, pc *projectctx.Context, rl *runlog.Log, zl *zap.Logger) (controller.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (controller.Deps, func(), error) {
		cleanup()
		return controller.Deps{}, func() {}, err
	}

	root := cfg.Run.ProjectRoot

	secCfg, err := secrets.WithProjectAllowlist(cfg.Secrets, root)
	if err != nil {
		return fail(err)
	}
	scrubber, err := secrets.New(secCfg)
	if err != nil {
		return fail(fmt.Errorf("secret scrubber: %w", err))
	}

	client, err := provider.New(cfg.Provider, scrubber, zl)
	if err != nil {
		return fail(err)
	}
	if !client.SupportsVision() {
		zl.Warn("model may not accept images", zap.String("provider", client.Name()), zap.String("model", client.Model()))
	}
	collab := provider.Bind(client)

	capturer, err := capture.New(capture.Config{
		Command:         cfg.Capture.Command,
		WorkDir:         root,
		AllowedCommands: cfg.Verify.AllowedCommands,
		Timeout:         cfg.Capture.Timeout,
	}, zl)
	if err != nil {
		return fail(err)
	}

	var metrics pipeline.MetricsSource
	if cfg.Scoring.MetricsCommand != "" {
		cm, err := scoring.NewCommandMetrics(cfg.Scoring.MetricsCommand, root, cfg.Verify.AllowedCommands, cfg.Scoring.MetricsTimeout)
		if err != nil {
			return fail(err)
		}
		metrics = cm
	}
	evaluator := scoring.NewEvaluator(collab.Evaluator, metrics, cfg.Scoring.Weights(), cfg.Run.TargetScore, zl)

	buildCommands := cfg.Verify.BuildCommands
	if len(buildCommands) == 0 {
		buildCommands = pc.BuildCommands()
	}

	approver, closeApprover, err := newApprover(cfg.Approval, filepath.Join(rl.Dir(), "approvals"), zl)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeApprover)

	gate, err := approval.NewGate(cfg.Approval.GateConfig(runID), approver, approval.NewMetrics(), zl)
	if err != nil {
		return fail(err)
	}

	publisher := newPublisher(cfg.Events, zl)
	closers = append(closers, func() { _ = publisher.Close() })

	deps := controller.Deps{
		Capturer:    capturer,
		Analyzer:    collab.Analyzer,
		Implementer: collab.Implementer,
		Evaluator:   evaluator,
		Reflector:   collab.Reflector,
		Applier:     verify.NewApplier(root, zl),
		Verifier: verify.NewVerifier(verify.VerifierConfig{
			ProjectRoot:     root,
			Commands:        buildCommands,
			AllowedCommands: cfg.Verify.AllowedCommands,
			Timeout:         cfg.Verify.Timeout,
		}, zl),
		Rollbacker: verify.NewRollbacker(root, verify.RollbackPolicy{RemoveCreated: cfg.Verify.RemoveCreatedOnRollback}, zl),
		Gate:       gate,
		Pricing:    client.CostModel(),
		Events:     publisher,
	}

	if cfg.Backend.Enabled {
		sup, err := newBackend(cfg.Backend, root, cfg.Verify.AllowedCommands, zl)
		if err != nil {
			return fail(err)
		}
		deps.Backend = sup
	}

	return deps, cleanup, nil
}

// newApprover builds the approver for the configured channel. fileDir is
// used by the file channel when approval.file_dir is empty.
func newApprover(cfg config.ApprovalConfig, fileDir string, zl *zap.Logger) (approval.Approver, func(), error) {
	noop := func() {}

	switch cfg.Channel {
	case config.ChannelPolicy:
		risk, err := approval.ParseRisk(cfg.MaxAutoRisk)
		if err != nil {
			return nil, noop, err
		}
		return approval.PolicyApprover{MaxRisk: risk, MaxCost: cfg.MaxAutoCost}, noop, nil

	case config.ChannelHTTP:
		host, portStr, err := net.SplitHostPort(cfg.HTTPAddr)
		if err != nil {
			return nil, noop, fmt.Errorf("approval.http_addr: %w", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, noop, fmt.Errorf("approval.http_addr port: %w", err)
		}
		ch := approval.NewChannelApprover()
		srv, err := apihttp.NewServer(ch, zl, &apihttp.Config{Host: host, Port: port})
		if err != nil {
			return nil, noop, err
		}
		if err := srv.Listen(); err != nil {
			return nil, noop, err
		}
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zl.Error("approval server stopped", zap.Error(err))
			}
		}()
		return ch, func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}, nil

	case config.ChannelNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("vizloop-approvals"))
		if err != nil {
			return nil, noop, fmt.Errorf("connecting to nats: %w", err)
		}
		a, err := approval.NewNATSApprover(nc, cfg.NATSSubject, zl)
		if err != nil {
			nc.Close()
			return nil, noop, err
		}
		return a, nc.Close, nil

	case config.ChannelFile:
		dir := cfg.FileDir
		if dir == "" {
			dir = fileDir
		}
		a, err := approval.NewFileApprover(dir, zl)
		if err != nil {
			return nil, noop, err
		}
		return a, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown approval channel %q", cfg.Channel)
}

// newPublisher connects the run event publisher, or discards events when no
// NATS URL is configured. A broker that cannot be reached only disables
// events.
func newPublisher(cfg config.EventsConfig, zl *zap.Logger) events.Publisher {
	if cfg.NATSURL == "" {
		return events.Nop{}
	}
	p, err := events.Dial(cfg.NATSURL, cfg.SubjectPrefix)
	if err != nil {
		zl.Warn("run events disabled", zap.String("nats_url", cfg.NATSURL), zap.Error(err))
		return events.Nop{}
	}
	return p
}

func newBackend(cfg config.BackendConfig, root string, allowed []string, zl *zap.Logger) (*supervisor.Supervisor, error) {
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = root
	} else if !filepath.IsAbs(workDir) {
		workDir = filepath.Join(root, workDir)
	}
	return supervisor.New(supervisor.Config{
		Command:         cfg.Command,
		Args:            cfg.Args,
		WorkDir:         workDir,
		AllowedRoots:    []string{root},
		AllowedCommands: allowed,
		Env:             cfg.Env,
		HealthURL:       cfg.HealthURL,
		StartupTimeout:  cfg.StartupTimeout,
		GracePeriod:     cfg.GracePeriod,
	}, zl)
}

// newRunID returns a sortable, unique run identifier.
func newRunID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}
