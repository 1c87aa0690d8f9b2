package approval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultNATSSubject is the request subject when none is configured.
const DefaultNATSSubject = "vizloop.approvals"

// NATSApprover sends each request over NATS request/reply on
// <subject>.<run_id> and waits for the decision on the reply inbox. Any
// service subscribed to the subject can answer with a JSON Decision.
type NATSApprover struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSApprover creates an approver publishing on subject.
func NewNATSApprover(nc *nats.Conn, subject string, logger *zap.Logger) (*NATSApprover, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if subject == "" {
		subject = DefaultNATSSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSApprover{nc: nc, subject: subject, logger: logger}, nil
}

// Approve implements Approver.
func (a *NATSApprover) Approve(ctx context.Context, req *Request) (Decision, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("encoding approval request: %w", err)
	}

	subject := requestSubject(a.subject, req.RunID)

	a.logger.Debug("publishing approval request", zap.String("subject", subject), zap.String("request_id", req.ID))
	msg, err := a.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		return Decision{}, fmt.Errorf("nats approval request: %w", err)
	}

	var d Decision
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		return Decision{}, fmt.Errorf("decoding approval decision: %w", err)
	}
	if d.Source == "" {
		d.Source = SourceOperator
	}
	return d, nil
}

// requestSubject scopes a request to its run: <subject>.<run_id>.
func requestSubject(subject, runID string) string {
	if runID == "" {
		runID = "default"
	}
	return subject + "." + runID
}

// ServeNATS answers approval requests on subject with decide until the
// returned subscription is drained. It is the responder side of
// NATSApprover, used by policy services and tests.
func ServeNATS(nc *nats.Conn, subject string, decide func(Request) Decision) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return nc.Subscribe(subject+".>", func(m *nats.Msg) {
		var req Request
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return
		}
		data, err := json.Marshal(decide(req))
		if err != nil {
			return
		}
		_ = m.Respond(data)
	})
}
