// Package capture takes screenshots of the running target by invoking an
// external capture command, such as a Playwright or Puppeteer script.
//
// The command is a template. Each argument may contain the placeholders
// {url}, {out}, {width} and {height}; they are substituted per argument
// after validation and the command runs without a shell.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
	"github.com/fyrsmithlabs/vizloop/internal/sanitize"
)

// DefaultTimeout bounds one capture.
const DefaultTimeout = 60 * time.Second

// ErrNoOutput indicates the capture command exited without writing an image.
var ErrNoOutput = errors.New("capture command produced no image")

// Config configures a CommandCapturer.
type Config struct {
	// Command is the capture command template.
	Command string

	// WorkDir is where the command runs. Empty uses the current directory.
	WorkDir string

	// AllowedCommands restricts the executable; empty uses the sanitize defaults.
	AllowedCommands []string

	Timeout time.Duration
}

// CommandCapturer implements pipeline.Capturer.
type CommandCapturer struct {
	argv    []string
	workDir string
	timeout time.Duration
	logger  *zap.Logger
}

// New validates the command template.
func New(cfg Config, logger *zap.Logger) (*CommandCapturer, error) {
	allowed := cfg.AllowedCommands
	if len(allowed) == 0 {
		allowed = sanitize.DefaultAllowedCommands
	}
	argv, err := sanitize.ParseCommand(cfg.Command, allowed)
	if err != nil {
		return nil, fmt.Errorf("capture command: %w", err)
	}
	if !strings.Contains(cfg.Command, "{out}") {
		return nil, fmt.Errorf("capture command must reference {out}")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandCapturer{argv: argv, workDir: cfg.WorkDir, timeout: cfg.Timeout, logger: logger}, nil
}

// Capture runs the command for target and returns the image it wrote.
func (c *CommandCapturer) Capture(ctx context.Context, target string, vp pipeline.Viewport) (*pipeline.Snapshot, error) {
	dir, err := os.MkdirTemp("", "vizloop-capture-")
	if err != nil {
		return nil, fmt.Errorf("creating capture directory: %w", err)
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "snapshot.png")

	r := strings.NewReplacer(
		"{url}", target,
		"{out}", out,
		"{width}", strconv.Itoa(vp.Width),
		"{height}", strconv.Itoa(vp.Height),
	)
	argv := make([]string, len(c.argv))
	for i, a := range c.argv {
		argv[i] = r.Replace(a)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.workDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("capture of %s: %w", target, ctx.Err())
		}
		return nil, fmt.Errorf("capture of %s failed: %w: %s", target, err, bytes.TrimSpace(stderr.Bytes()))
	}

	data, err := os.ReadFile(out)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil, ErrNoOutput
	}
	if err != nil {
		return nil, fmt.Errorf("reading capture: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding capture: %w", err)
	}

	c.logger.Debug("captured snapshot",
		zap.String("target", target),
		zap.String("format", format),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Duration("duration", time.Since(start)))

	return &pipeline.Snapshot{
		Data:      data,
		MediaType: "image/" + format,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Timestamp: time.Now(),
	}, nil
}
