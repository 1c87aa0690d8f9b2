package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
)

// DefaultTimeout bounds how long an iteration waits for a decision.
const DefaultTimeout = 10 * time.Minute

// ErrTimeout indicates the approver did not answer before the deadline.
var ErrTimeout = errors.New("approval timed out")

// Approver produces a decision for a request. Implementations block until a
// decision exists or ctx is done.
type Approver interface {
	Approve(ctx context.Context, req *Request) (Decision, error)
}

// Config configures a Gate.
type Config struct {
	Mode Mode

	// Timeout bounds each wait for an approver. Zero uses DefaultTimeout.
	Timeout time.Duration

	// ApproveOnTimeout flips the timeout decision from deny to approve.
	ApproveOnTimeout bool

	// MaxAutoRisk and MaxAutoCost are the threshold-mode limits under which
	// requests pass without an approver.
	MaxAutoRisk Risk
	MaxAutoCost float64

	// RunID is stamped on every request.
	RunID string
}

// Gate is the approval checkpoint of one run.
type Gate struct {
	cfg      Config
	approver Approver
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewGate creates a gate. The approver may be nil only in auto mode.
func NewGate(cfg Config, approver Approver, metrics *Metrics, logger *zap.Logger) (*Gate, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeAlways
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unknown approval mode %q", cfg.Mode)
	}
	if approver == nil && cfg.Mode != ModeAuto {
		return nil, fmt.Errorf("approval mode %q requires an approver", cfg.Mode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAutoRisk == "" {
		cfg.MaxAutoRisk = RiskLow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		cfg:      cfg,
		approver: approver,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// RequestApproval blocks until the recommendations are approved or denied.
// A timeout produces the configured timeout decision rather than an error.
// The error is non-nil when the approver fails or ctx is cancelled.
func (g *Gate) RequestApproval(ctx context.Context, recs []changeset.Recommendation, iteration int, a Assessment) (Decision, error) {
	start := g.now()
	req := &Request{
		ID:              uuid.NewString(),
		RunID:           g.cfg.RunID,
		Iteration:       iteration,
		Recommendations: append([]changeset.Recommendation(nil), recs...),
		Risk:            a.Risk,
		RiskPoints:      a.RiskPoints,
		EstimatedCost:   a.EstimatedCost,
		CreatedAt:       start.UTC(),
	}

	if d, ok := g.autoDecide(req); ok {
		g.record(req, d, start)
		return d, nil
	}

	req.Deadline = start.Add(g.cfg.Timeout).UTC()
	g.logger.Info("waiting for approval",
		zap.String("request_id", req.ID),
		zap.Int("iteration", iteration),
		zap.String("risk", string(req.Risk)),
		zap.Float64("estimated_cost", req.EstimatedCost),
		zap.Duration("timeout", g.cfg.Timeout))

	waitCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if g.metrics != nil {
		g.metrics.Pending.Inc()
		defer g.metrics.Pending.Dec()
	}

	d, err := g.approver.Approve(waitCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
			d = g.timeoutDecision()
			g.record(req, d, start)
			return d, nil
		}
		return Decision{}, fmt.Errorf("approver failed for request %s: %w", req.ID, err)
	}

	if d.Source == "" {
		d.Source = SourceOperator
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = g.now().UTC()
	}
	g.record(req, d, start)
	return d, nil
}

func (g *Gate) autoDecide(req *Request) (Decision, bool) {
	switch g.cfg.Mode {
	case ModeAuto:
		return Decision{Approved: true, Reason: "approval gate disabled", Source: SourceAuto, DecidedAt: g.now().UTC()}, true
	case ModeThreshold:
		if withinLimits(req, g.cfg.MaxAutoRisk, g.cfg.MaxAutoCost) {
			return Decision{
				Approved:  true,
				Reason:    fmt.Sprintf("risk %s and cost $%.2f within auto-approve limits", req.Risk, req.EstimatedCost),
				Source:    SourcePolicy,
				DecidedAt: g.now().UTC(),
			}, true
		}
	}
	return Decision{}, false
}

func (g *Gate) timeoutDecision() Decision {
	d := Decision{
		Approved:  g.cfg.ApproveOnTimeout,
		Source:    SourceTimeout,
		DecidedAt: g.now().UTC(),
	}
	if d.Approved {
		d.Reason = fmt.Sprintf("no decision within %s, approved by timeout policy", g.cfg.Timeout)
	} else {
		d.Reason = fmt.Sprintf("no decision within %s", g.cfg.Timeout)
	}
	return d
}

func (g *Gate) record(req *Request, d Decision, start time.Time) {
	g.metrics.observe(d, g.now().Sub(start).Seconds())
	g.logger.Info("approval decided",
		zap.String("request_id", req.ID),
		zap.Int("iteration", req.Iteration),
		zap.Bool("approved", d.Approved),
		zap.String("source", string(d.Source)),
		zap.String("reason", d.Reason))
}

func withinLimits(req *Request, maxRisk Risk, maxCost float64) bool {
	return req.Risk.Rank() <= maxRisk.Rank() && req.EstimatedCost <= maxCost
}
