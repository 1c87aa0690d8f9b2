package approval

import (
	"context"
	"fmt"
	"time"
)

// PolicyApprover decides immediately from fixed limits. It is the approver
// for unattended runs that still want a ceiling on risk and cost.
type PolicyApprover struct {
	MaxRisk Risk
	MaxCost float64
}

// Approve implements Approver.
func (p PolicyApprover) Approve(_ context.Context, req *Request) (Decision, error) {
	maxRisk := p.MaxRisk
	if maxRisk == "" {
		maxRisk = RiskLow
	}
	d := Decision{Source: SourcePolicy, DecidedAt: time.Now().UTC()}
	switch {
	case req.Risk.Rank() > maxRisk.Rank():
		d.Reason = fmt.Sprintf("risk %s exceeds policy limit %s", req.Risk, maxRisk)
	case req.EstimatedCost > p.MaxCost:
		d.Reason = fmt.Sprintf("estimated cost $%.2f exceeds policy limit $%.2f", req.EstimatedCost, p.MaxCost)
	default:
		d.Approved = true
		d.Reason = "within policy limits"
	}
	return d, nil
}
