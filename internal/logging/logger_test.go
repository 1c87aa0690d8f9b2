package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"trace level", func(c *Config) { c.Level = "trace" }, false},
		{"bad level", func(c *Config) { c.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Format = "xml" }, true},
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }, true},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, true},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"env": ""} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)

	l, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = LevelFromString("nope")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(nil, nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))

	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err, "otel output without a provider leaves no core")
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithIteration(ctx, 0)
	ctx = WithPhase(ctx, "capture")

	fields := ContextFields(ctx)
	require.Len(t, fields, 3)
	assert.Equal(t, zap.String("run.id", "run-1"), fields[0])
	assert.Equal(t, zap.Int("iteration", 0), fields[1])
	assert.Equal(t, zap.String("phase", "capture"), fields[2])
}

func TestContextFields_Trace(t *testing.T) {
	tp := trace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
}

func TestLoggerInjectsContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(WithIteration(context.Background(), 2), "run-7")

	tl.Info(ctx, "iteration started", zap.Float64("score", 6.5))
	tl.Debug(context.Background(), "quiet")

	tl.AssertLogged(t, zapcore.InfoLevel, "iteration started")
	tl.AssertRunCorrelation(t, "iteration started", "run-7")
	tl.AssertField(t, "iteration started", "score", 6.5)
	assert.Equal(t, []string{"iteration started", "quiet"}, tl.Messages())

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "from context")
	tl.AssertLogged(t, zapcore.WarnLevel, "from context")
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)
	logger := zap.New(core).With(zap.String("api_key", "sk-with-field"))

	logger.Info("calling provider",
		zap.String("token", "abc123"),
		zap.String("header", "Bearer xyz"),
		zap.String("model", "gpt-4o"))

	out := buf.String()
	assert.NotContains(t, out, "sk-with-field")
	assert.NotContains(t, out, "abc123")
	assert.NotContains(t, out, "Bearer xyz")
	assert.Contains(t, out, "[REDACTED:pattern]")
	assert.Contains(t, out, `"model":"gpt-4o"`)
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{})
	require.NoError(t, err)

	var buf bytes.Buffer
	zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel)).Info("x", zap.String("token", "visible"))
	assert.Contains(t, buf.String(), "visible")
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("api_key", "sk-1234567890abcdef")
	assert.Equal(t, "[REDACTED:19]", f.String)
}

func TestAssertNoSecrets(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "provider ready", RedactedString("api_key", "k"), zap.String("model", "m"))
	tl.AssertNoSecrets(t)
}
