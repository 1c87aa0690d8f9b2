// Package supervisor owns the lifecycle of the companion backend process a
// target UI needs while a run is in progress.
//
// A Supervisor starts one subprocess after validating its command and working
// directory, polls its health endpoint with exponential backoff until the
// startup timeout, and stops it with SIGTERM followed by a kill after the
// grace period. The process runs in its own process group and signals go to
// the whole group, so dev servers started by a launcher stop with it. Run ties the process to a function scope so it is stopped on
// every return path.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/sanitize"
)

var (
	// ErrCommandNotAllowed indicates the backend command failed the allow-list.
	ErrCommandNotAllowed = errors.New("backend command not allowed")

	// ErrWorkDirNotAllowed indicates the working directory failed validation.
	ErrWorkDirNotAllowed = errors.New("backend working directory not allowed")

	// ErrStartupTimeout indicates the backend never became healthy.
	ErrStartupTimeout = errors.New("backend did not become healthy before the startup timeout")

	// ErrAlreadyRunning indicates Start was called twice.
	ErrAlreadyRunning = errors.New("backend already running")

	// ErrExited indicates the process ended while it was expected to run.
	ErrExited = errors.New("backend process exited")
)

const (
	DefaultStartupTimeout = 30 * time.Second
	DefaultGracePeriod    = 5 * time.Second
	defaultPollInterval   = 250 * time.Millisecond
	maxPollInterval       = 3 * time.Second
)

// Config configures a Supervisor.
type Config struct {
	// Command is the command line, split without a shell.
	Command string
	// Args are appended to the parsed command line.
	Args []string
	// WorkDir must resolve under one of AllowedRoots.
	WorkDir      string
	AllowedRoots []string
	// AllowedCommands restricts executables; empty uses the sanitize defaults.
	AllowedCommands []string
	// Env entries (KEY=VALUE) are added to the inherited environment.
	Env []string
	// HealthURL is polled until it answers below 400. Empty means the backend
	// counts as healthy once the process has started.
	HealthURL      string
	StartupTimeout time.Duration
	GracePeriod    time.Duration
	PollInterval   time.Duration
}

// Supervisor manages one backend subprocess. It is safe for concurrent use.
type Supervisor struct {
	cfg     Config
	argv    []string
	workDir string
	client  *http.Client
	logger  *zap.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	done      chan struct{}
	waitErr   error
	killTimer *time.Timer
}

// New validates cfg and returns a stopped supervisor.
func New(cfg Config, logger *zap.Logger) (*Supervisor, error) {
	argv, err := sanitize.ParseCommand(cfg.Command, cfg.AllowedCommands)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommandNotAllowed, err)
	}
	argv = append(argv, cfg.Args...)
	if err := sanitize.ValidateCommand(argv, cfg.AllowedCommands); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommandNotAllowed, err)
	}

	workDir, err := sanitize.ValidateDir(cfg.WorkDir, cfg.AllowedRoots)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkDirNotAllowed, err)
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrWorkDirNotAllowed, cfg.WorkDir)
	}

	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Supervisor{
		cfg:     cfg,
		argv:    argv,
		workDir: workDir,
		client:  &http.Client{Timeout: 2 * time.Second},
		logger:  logger,
	}, nil
}

// Start launches the process and blocks until it is healthy. If it does not
// become healthy within the startup timeout the process is stopped and an
// error wrapping ErrStartupTimeout is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	cmd.Dir = s.workDir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	setProcessGroup(cmd)

	stdout := newLineWriter(s.logger, "stdout")
	stderr := newLineWriter(s.logger, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Bounds output copying when a grandchild keeps the pipes open.
	cmd.WaitDelay = s.cfg.GracePeriod

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("starting backend: %w", err)
	}

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.waitErr = nil
	s.mu.Unlock()

	pid := cmd.Process.Pid
	s.logger.Info("backend started", zap.Strings("command", s.argv), zap.String("dir", s.workDir), zap.Int("pid", pid))

	go func() {
		err := cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		s.mu.Lock()
		s.waitErr = err
		if s.killTimer != nil {
			s.killTimer.Stop()
			s.killTimer = nil
		}
		s.cmd = nil
		s.mu.Unlock()
		s.logger.Info("backend exited", zap.Int("pid", pid), zap.Error(err))
		close(done)
	}()

	if err := s.waitHealthy(ctx, done); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracePeriod+time.Second)
		defer cancel()
		if stopErr := s.Stop(stopCtx); stopErr != nil {
			s.logger.Warn("failed to stop unhealthy backend", zap.Error(stopErr))
		}
		return err
	}
	return nil
}

func (s *Supervisor) waitHealthy(ctx context.Context, done <-chan struct{}) error {
	if s.cfg.HealthURL == "" {
		select {
		case <-done:
			return fmt.Errorf("%w during startup", ErrExited)
		default:
			return nil
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.PollInterval
	b.MaxInterval = maxPollInterval

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		select {
		case <-done:
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w during startup", ErrExited))
		default:
		}
		return struct{}{}, s.checkHealth(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(s.cfg.StartupTimeout),
	)
	if err != nil {
		if errors.Is(err, ErrExited) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w after %d attempts: %v", ErrStartupTimeout, attempts, err)
	}

	s.logger.Info("backend healthy", zap.String("url", s.cfg.HealthURL), zap.Int("attempts", attempts))
	return nil
}

func (s *Supervisor) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.HealthURL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("invalid health url: %w", err))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// Stop sends SIGTERM to the process group and waits for the process to
// exit. If it outlives the grace period the group is killed. Group members
// still alive once the process has exited get the rest of the grace period
// and are then killed too. Stopping a stopped supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	if cmd == nil {
		s.mu.Unlock()
		return nil
	}
	pid := cmd.Process.Pid
	deadline := time.Now().Add(s.cfg.GracePeriod)
	if s.killTimer == nil {
		s.killTimer = time.AfterFunc(s.cfg.GracePeriod, func() {
			s.logger.Warn("backend ignored SIGTERM, killing", zap.Int("pid", pid))
			_ = killGroup(pid)
		})
	}
	s.mu.Unlock()

	s.logger.Info("stopping backend", zap.Int("pid", pid), zap.Duration("grace_period", s.cfg.GracePeriod))
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		s.logger.Warn("failed to signal backend group", zap.Int("pid", pid), zap.Error(err))
		_ = killGroup(pid)
	}

	select {
	case <-done:
	case <-ctx.Done():
		_ = killGroup(pid)
		<-done
		return ctx.Err()
	}
	return s.reapGroup(ctx, pid, deadline)
}

// reapGroup waits for leftover group members until deadline, then kills them.
func (s *Supervisor) reapGroup(ctx context.Context, pid int, deadline time.Time) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for groupAlive(pid) {
		if time.Now().After(deadline) {
			s.logger.Warn("backend children outlived it, killing group", zap.Int("pgid", pid))
			return killGroup(pid)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			_ = killGroup(pid)
			return ctx.Err()
		}
	}
	return nil
}

// Running reports whether the process is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// ExitErr returns the wait error of the last process that exited.
func (s *Supervisor) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// Done is closed when the current process exits. It is nil before Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Run starts the backend, calls fn, and stops the backend however fn
// returns, including panics and cancellation of ctx.
func (s *Supervisor) Run(ctx context.Context, fn func(context.Context) error) (err error) {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() {
		// ctx may already be cancelled; stopping needs its own deadline.
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracePeriod+time.Second)
		defer cancel()
		if stopErr := s.Stop(stopCtx); stopErr != nil && err == nil {
			err = fmt.Errorf("stopping backend: %w", stopErr)
		}
	}()
	return fn(ctx)
}
