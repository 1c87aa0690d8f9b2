package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/fyrsmithlabs/vizloop/internal/sanitize"
)

const defaultMetricsTimeout = 2 * time.Minute

// CommandMetrics runs a command that prints {"score": n} on stdout, such as
// a Lighthouse wrapper script.
type CommandMetrics struct {
	argv    []string
	dir     string
	timeout time.Duration
}

// NewCommandMetrics validates the command line against the allow-list.
func NewCommandMetrics(line, dir string, allowed []string, timeout time.Duration) (*CommandMetrics, error) {
	argv, err := sanitize.ParseCommand(line, allowed)
	if err != nil {
		return nil, fmt.Errorf("metrics command: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultMetricsTimeout
	}
	return &CommandMetrics{argv: argv, dir: dir, timeout: timeout}, nil
}

// MetricsScore implements pipeline.MetricsSource.
func (c *CommandMetrics) MetricsScore(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = c.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("metrics command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return parseMetricsOutput(stdout.Bytes())
}

func parseMetricsOutput(out []byte) (float64, error) {
	// Tools often log before the result; the last line carries the JSON.
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	last := lines[len(lines)-1]

	var res struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(last, &res); err != nil {
		return 0, fmt.Errorf("metrics output is not JSON: %w", err)
	}
	if res.Score == nil {
		return 0, fmt.Errorf("metrics output has no score")
	}
	return clamp(*res.Score), nil
}
