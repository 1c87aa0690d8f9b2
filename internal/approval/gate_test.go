package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
)

type mockApprover struct {
	mock.Mock
}

func (m *mockApprover) Approve(ctx context.Context, req *Request) (Decision, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Decision), args.Error(1)
}

var testRecs = []changeset.Recommendation{{Title: "Increase contrast", Dimension: "color_contrast", Impact: 7, Effort: 2}}

func TestNewGate_Validation(t *testing.T) {
	_, err := NewGate(Config{Mode: "sometimes"}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewGate(Config{Mode: ModeAlways}, nil, nil, nil)
	assert.Error(t, err)

	g, err := NewGate(Config{Mode: ModeAuto}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, g.cfg.Timeout)
}

func TestGate_AutoMode(t *testing.T) {
	g, err := NewGate(Config{Mode: ModeAuto}, nil, NewMetrics(), zaptest.NewLogger(t))
	require.NoError(t, err)

	d, err := g.RequestApproval(context.Background(), testRecs, 0, Assessment{Risk: RiskHigh, EstimatedCost: 99})
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Equal(t, SourceAuto, d.Source)
}

func TestGate_ThresholdMode(t *testing.T) {
	approver := &mockApprover{}
	approver.On("Approve", mock.Anything, mock.MatchedBy(func(r *Request) bool { return r.Risk == RiskHigh })).
		Return(Decision{Approved: false, Reason: "too risky"}, nil).Once()

	g, err := NewGate(Config{Mode: ModeThreshold, MaxAutoRisk: RiskMedium, MaxAutoCost: 0.5, RunID: "run-1"}, approver, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	d, err := g.RequestApproval(context.Background(), testRecs, 1, Assessment{Risk: RiskMedium, EstimatedCost: 0.2})
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Equal(t, SourcePolicy, d.Source)

	d, err = g.RequestApproval(context.Background(), testRecs, 2, Assessment{Risk: RiskHigh, EstimatedCost: 0.2})
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, "too risky", d.Reason)
	assert.Equal(t, SourceOperator, d.Source)

	approver.AssertExpectations(t)
}

func TestGate_ThresholdModeCostLimit(t *testing.T) {
	approver := &mockApprover{}
	approver.On("Approve", mock.Anything, mock.Anything).Return(Decision{Approved: true}, nil).Once()

	g, err := NewGate(Config{Mode: ModeThreshold, MaxAutoRisk: RiskHigh, MaxAutoCost: 0.5}, approver, nil, nil)
	require.NoError(t, err)

	_, err = g.RequestApproval(context.Background(), testRecs, 0, Assessment{Risk: RiskLow, EstimatedCost: 0.51})
	require.NoError(t, err)
	approver.AssertExpectations(t)
}

func TestGate_AlwaysModePassesRequest(t *testing.T) {
	approver := &mockApprover{}
	approver.On("Approve", mock.Anything, mock.Anything).Return(Decision{Approved: true}, nil).Once()

	g, err := NewGate(Config{Mode: ModeAlways, RunID: "run-7", Timeout: time.Minute}, approver, nil, nil)
	require.NoError(t, err)

	_, err = g.RequestApproval(context.Background(), testRecs, 3, Assessment{Risk: RiskLow, RiskPoints: 2, EstimatedCost: 0.01})
	require.NoError(t, err)

	req := approver.Calls[0].Arguments.Get(1).(*Request)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "run-7", req.RunID)
	assert.Equal(t, 3, req.Iteration)
	assert.Equal(t, testRecs, req.Recommendations)
	assert.Equal(t, 2, req.RiskPoints)
	assert.WithinDuration(t, req.CreatedAt.Add(time.Minute), req.Deadline, time.Second)
}

func TestGate_TimeoutFailsClosed(t *testing.T) {
	g, err := NewGate(Config{Mode: ModeAlways, Timeout: 20 * time.Millisecond}, NewChannelApprover(), NewMetrics(), zaptest.NewLogger(t))
	require.NoError(t, err)

	d, err := g.RequestApproval(context.Background(), testRecs, 0, Assessment{Risk: RiskLow})
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, SourceTimeout, d.Source)
	assert.Contains(t, d.Reason, "no decision within")
}

func TestGate_TimeoutCanApprove(t *testing.T) {
	g, err := NewGate(Config{Mode: ModeAlways, Timeout: 20 * time.Millisecond, ApproveOnTimeout: true}, NewChannelApprover(), nil, nil)
	require.NoError(t, err)

	d, err := g.RequestApproval(context.Background(), testRecs, 0, Assessment{})
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Equal(t, SourceTimeout, d.Source)
}

func TestGate_ParentCancellation(t *testing.T) {
	g, err := NewGate(Config{Mode: ModeAlways}, NewChannelApprover(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = g.RequestApproval(ctx, testRecs, 0, Assessment{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate_ApproverError(t *testing.T) {
	approver := &mockApprover{}
	approver.On("Approve", mock.Anything, mock.Anything).Return(Decision{}, errors.New("broker down"))

	g, err := NewGate(Config{Mode: ModeAlways}, approver, nil, nil)
	require.NoError(t, err)

	_, err = g.RequestApproval(context.Background(), testRecs, 0, Assessment{})
	assert.ErrorContains(t, err, "broker down")
}

func TestPolicyApprover(t *testing.T) {
	p := PolicyApprover{MaxRisk: RiskMedium, MaxCost: 1}

	d, _ := p.Approve(context.Background(), &Request{Risk: RiskMedium, EstimatedCost: 0.5})
	assert.True(t, d.Approved)

	d, _ = p.Approve(context.Background(), &Request{Risk: RiskHigh, EstimatedCost: 0.5})
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "risk high")

	d, _ = p.Approve(context.Background(), &Request{Risk: RiskLow, EstimatedCost: 2})
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "cost")
}
