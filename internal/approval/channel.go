package approval

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrUnknownRequest indicates a decision for a request that is not pending.
var ErrUnknownRequest = errors.New("no pending approval request with that id")

type pending struct {
	req      *Request
	decision chan Decision
}

// ChannelApprover holds requests in memory until Decide is called for them.
// It is safe for concurrent use.
type ChannelApprover struct {
	mu      sync.Mutex
	pending map[string]*pending
}

// NewChannelApprover creates an empty in-process approver.
func NewChannelApprover() *ChannelApprover {
	return &ChannelApprover{pending: make(map[string]*pending)}
}

// Approve implements Approver. The request stays visible through Pending
// until it is decided or ctx ends.
func (c *ChannelApprover) Approve(ctx context.Context, req *Request) (Decision, error) {
	p := &pending{req: req, decision: make(chan Decision, 1)}

	c.mu.Lock()
	c.pending[req.ID] = p
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	select {
	case d := <-p.decision:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Pending returns a snapshot of waiting requests, oldest first.
func (c *ChannelApprover) Pending() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Request, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, *p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns a pending request by id.
func (c *ChannelApprover) Get(id string) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return Request{}, false
	}
	return *p.req, true
}

// Decide resolves a pending request. Only the first decision counts.
func (c *ChannelApprover) Decide(id string, d Decision) error {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return ErrUnknownRequest
	}
	if d.Source == "" {
		d.Source = SourceOperator
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	p.decision <- d
	return nil
}
