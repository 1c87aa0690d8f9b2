package scoring

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
)

type mockEvaluator struct{ mock.Mock }

func (m *mockEvaluator) Evaluate(ctx context.Context, snap *pipeline.Snapshot) (*pipeline.Evaluation, error) {
	args := m.Called(ctx, snap)
	ev, _ := args.Get(0).(*pipeline.Evaluation)
	return ev, args.Error(1)
}

type mockMetrics struct{ mock.Mock }

func (m *mockMetrics) MetricsScore(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func ptr(v float64) *float64 { return &v }

func TestBlend(t *testing.T) {
	tests := []struct {
		name     string
		vision   float64
		metrics  *float64
		w        Weights
		want     float64
		wantConf float64
	}{
		{"vision only", 7.5, nil, DefaultWeights(), 7.5, singleSignalConfidence},
		{"agreeing signals", 8, ptr(8), DefaultWeights(), 8, 1},
		{"weighted", 8, ptr(6), DefaultWeights(), 7.2, 0.8},
		{"zero metrics weight", 8, ptr(2), Weights{Vision: 1}, 8, singleSignalConfidence},
		{"unnormalized weights", 9, ptr(3), Weights{Vision: 3, Metrics: 1}, 7.5, 0.4},
		{"clamped", 12, ptr(-1), Weights{Vision: 1, Metrics: 1}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := Blend(tt.vision, tt.metrics, tt.w)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.InDelta(t, tt.wantConf, conf, 1e-9)
		})
	}
}

func TestEvaluator_BlendsAndFlagsTarget(t *testing.T) {
	vision := &mockEvaluator{}
	vision.On("Evaluate", mock.Anything, mock.Anything).Return(&pipeline.Evaluation{
		CompositeScore:  9,
		DimensionScores: map[string]float64{"typography": 9},
	}, nil)
	metrics := &mockMetrics{}
	metrics.On("MetricsScore", mock.Anything).Return(8.0, nil)

	e := NewEvaluator(vision, metrics, DefaultWeights(), 8.5, nil)
	ev, err := e.Evaluate(context.Background(), &pipeline.Snapshot{})
	require.NoError(t, err)

	assert.InDelta(t, 8.6, ev.CompositeScore, 1e-9)
	assert.Equal(t, 9.0, ev.VisionScore)
	require.NotNil(t, ev.MetricsScore)
	assert.Equal(t, 8.0, *ev.MetricsScore)
	assert.True(t, ev.TargetReached)
	assert.Equal(t, 9.0, ev.DimensionScores["typography"])
}

func TestEvaluator_MetricsFailureDegrades(t *testing.T) {
	vision := &mockEvaluator{}
	vision.On("Evaluate", mock.Anything, mock.Anything).Return(&pipeline.Evaluation{CompositeScore: 6}, nil)
	metrics := &mockMetrics{}
	metrics.On("MetricsScore", mock.Anything).Return(0.0, errors.New("lighthouse crashed"))

	ev, err := NewEvaluator(vision, metrics, DefaultWeights(), 8.5, nil).Evaluate(context.Background(), &pipeline.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, 6.0, ev.CompositeScore)
	assert.Nil(t, ev.MetricsScore)
	assert.False(t, ev.TargetReached)
}

func TestEvaluator_VisionFailurePropagates(t *testing.T) {
	vision := &mockEvaluator{}
	vision.On("Evaluate", mock.Anything, mock.Anything).Return(nil, errors.New("api down"))

	_, err := NewEvaluator(vision, nil, DefaultWeights(), 8.5, nil).Evaluate(context.Background(), &pipeline.Snapshot{})
	assert.ErrorContains(t, err, "api down")
}

func TestParseMetricsOutput(t *testing.T) {
	got, err := parseMetricsOutput([]byte("running audit...\n{\"score\": 7.25}\n"))
	require.NoError(t, err)
	assert.Equal(t, 7.25, got)

	_, err = parseMetricsOutput([]byte("{\"perf\": 1}"))
	assert.Error(t, err)

	_, err = parseMetricsOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestCommandMetrics(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	_, err := NewCommandMetrics("curl http://x", "", nil, 0)
	assert.Error(t, err)

	m, err := NewCommandMetrics(`sh -c 'echo {\"score\": 6.5}'`, t.TempDir(), []string{"sh"}, 0)
	require.NoError(t, err)
	got, err := m.MetricsScore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6.5, got)
}
