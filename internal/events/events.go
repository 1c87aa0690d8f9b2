// Package events publishes run progress so dashboards and operators can
// follow a run while it executes.
//
// Events are published to subjects:
//   - {prefix}.{run_id}.started
//   - {prefix}.{run_id}.progress
//   - {prefix}.{run_id}.completed
//   - {prefix}.{run_id}.failed
//
// Publishing is fire-and-forget. A broken publisher never stops a run.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "vizloop.runs"

// Kind is the lifecycle stage an event reports.
type Kind string

const (
	KindStarted   Kind = "started"
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Event is one progress notification.
type Event struct {
	RunID     string    `json:"run_id"`
	Kind      Kind      `json:"kind"`
	Iteration int       `json:"iteration"`
	Phase     string    `json:"phase,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// NATSPublisher publishes events as JSON on NATS.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// NewNATSPublisher publishes on an existing connection. The caller keeps
// ownership of nc.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Dial connects to url and returns a publisher that closes the connection
// on Close.
func Dial(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("vizloop"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	p := NewNATSPublisher(nc, prefix)
	p.owned = true
	return p, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(ev Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, ev.RunID, ev.Kind)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}

// Close flushes pending events and closes an owned connection.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return p.nc.Flush()
	}
	return p.nc.Drain()
}

// Subscribe delivers the events of runID, or of every run when runID is
// empty, on the returned channel until stop is called. Undecodable messages
// are dropped. The channel is never closed; a run ends with a completed or
// failed event.
func Subscribe(nc *nats.Conn, prefix, runID string) (<-chan Event, func() error, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if runID == "" {
		runID = "*"
	}

	out := make(chan Event, 64)
	done := make(chan struct{})
	sub, err := nc.Subscribe(fmt.Sprintf("%s.%s.*", prefix, runID), func(m *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			return
		}
		select {
		case out <- ev:
		case <-done:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe to run events: %w", err)
	}

	var (
		once    sync.Once
		stopErr error
	)
	stop := func() error {
		once.Do(func() {
			close(done)
			stopErr = sub.Unsubscribe()
		})
		return stopErr
	}
	return out, stop, nil
}

// Recorder keeps events in memory. It is used by tests and by the CLI to
// render a timeline.
type Recorder struct {
	Events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.Events = append(r.Events, ev)
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }
