package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/sanitize"
)

const (
	// DefaultTimeout bounds a whole verification run.
	DefaultTimeout = 5 * time.Minute

	maxDiagnosticBytes = 16 * 1024
)

// CommandResult is the outcome of one build command.
type CommandResult struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of verifying an applied change set.
type Result struct {
	BuildSucceeded bool            `json:"build_succeeded"`
	Diagnostics    string          `json:"diagnostics,omitempty"`
	Commands       []CommandResult `json:"commands,omitempty"`
	Duration       time.Duration   `json:"duration"`
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// ProjectRoot is the working directory for build commands.
	ProjectRoot string

	// Commands run when a change set carries no build commands of its own.
	Commands []string

	// AllowedCommands restricts executables; empty uses the sanitize defaults.
	AllowedCommands []string

	// Timeout bounds the whole verification. Zero uses DefaultTimeout.
	Timeout time.Duration
}

// Verifier runs the build check for an applied change set.
type Verifier struct {
	cfg    VerifierConfig
	logger *zap.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(cfg VerifierConfig, logger *zap.Logger) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{cfg: cfg, logger: logger}
}

// Verify runs the change set's build and test commands, or the configured
// defaults when it has none, sequentially and stops at the first
// failure. A failing or disallowed command is reported as a failed build, not
// as an error; the returned error is non-nil only when ctx is cancelled.
// With no commands at all the build is considered successful.
func (v *Verifier) Verify(ctx context.Context, cs *changeset.ChangeSet) (*Result, error) {
	start := time.Now()
	res := &Result{BuildSucceeded: true}

	commands := v.cfg.Commands
	if own := cs.Commands(); len(own) > 0 {
		commands = own
	}
	if len(commands) == 0 {
		res.Diagnostics = "no build commands configured"
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	for _, line := range commands {
		argv, err := sanitize.ParseCommand(line, v.cfg.AllowedCommands)
		if err != nil {
			res.BuildSucceeded = false
			res.Diagnostics = fmt.Sprintf("refused build command %q: %v", line, err)
			break
		}

		cr := v.run(ctx, line, argv)
		res.Commands = append(res.Commands, cr)
		if cr.ExitCode != 0 || ctx.Err() != nil {
			res.BuildSucceeded = false
			res.Diagnostics = fmt.Sprintf("%s exited with %d\n%s", line, cr.ExitCode, cr.Output)
			break
		}
	}
	res.Duration = time.Since(start)

	// A timeout is a failed build; a cancelled parent is not a verdict.
	if errors.Is(ctx.Err(), context.Canceled) {
		return res, ctx.Err()
	}

	v.logger.Info("verification finished",
		zap.Bool("build_succeeded", res.BuildSucceeded),
		zap.Int("commands", len(res.Commands)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (v *Verifier) run(ctx context.Context, line string, argv []string) CommandResult {
	start := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = v.cfg.ProjectRoot

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	cr := CommandResult{
		Command:  line,
		Output:   tail(out.String(), maxDiagnosticBytes),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		cr.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			cr.ExitCode = -1
			cr.Output = strings.TrimSpace(cr.Output + "\nterminated: " + ctx.Err().Error())
		}
	default:
		cr.ExitCode = -1
		cr.Output = strings.TrimSpace(cr.Output + "\n" + err.Error())
	}

	v.logger.Debug("build command finished",
		zap.String("command", line),
		zap.Int("exit_code", cr.ExitCode),
		zap.Duration("duration", cr.Duration))
	return cr
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
