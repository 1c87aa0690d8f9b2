package approval

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSApprover_RequestReply(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := ServeNATS(nc, "", func(req Request) Decision {
		return Decision{Approved: req.Iteration < 3, Reason: "reviewed " + req.ID}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	a, err := NewNATSApprover(nc, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := a.Approve(ctx, &Request{ID: "r1", RunID: "run-a", Iteration: 1})
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Equal(t, "reviewed r1", d.Reason)
	assert.Equal(t, SourceOperator, d.Source)

	d, err = a.Approve(ctx, &Request{ID: "r2", Iteration: 5})
	require.NoError(t, err)
	assert.False(t, d.Approved)
}

func TestNATSApprover_NoResponders(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	a, err := NewNATSApprover(nc, "nobody.listens", nil)
	require.NoError(t, err)

	g, err := NewGate(Config{Mode: ModeAlways, Timeout: 50 * time.Millisecond}, a, nil, nil)
	require.NoError(t, err)

	// With no responders NATS fails fast; the gate reports that as an
	// approver failure rather than a timeout.
	_, err = g.RequestApproval(context.Background(), testRecs, 0, Assessment{})
	assert.Error(t, err)
}

func TestNewNATSApprover_RequiresConn(t *testing.T) {
	_, err := NewNATSApprover(nil, "", nil)
	assert.Error(t, err)
}
