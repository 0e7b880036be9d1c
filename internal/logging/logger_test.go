package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/contextdb/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func newBufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	logger, err := NewLogger(cfg, &buf)
	require.NoError(t, err)
	return logger, &buf
}

func TestNewLogger_JSONOutput(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	logger.Info(context.Background(), "database created", zap.String("name", "demo"))
	require.NoError(t, logger.Sync())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "database created", lines[0]["msg"])
	assert.Equal(t, "demo", lines[0]["name"])
	assert.Equal(t, "contextdb", lines[0]["service"])
	assert.Contains(t, lines[0]["caller"], "logger_test.go")
	assert.NotEmpty(t, lines[0]["ts"])
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Level = zapcore.WarnLevel })
	ctx := context.Background()

	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, "warn")
	logger.Error(ctx, "error")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["msg"])
	assert.Equal(t, "error", lines[1]["msg"])
	assert.False(t, logger.Enabled(zapcore.InfoLevel))
}

func TestNewLogger_TraceLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Level = TraceLevel })

	logger.Trace(context.Background(), "payload", zap.Int("bytes", 12))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
}

func TestNewLogger_ContextFields(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = WithRequestID(ctx, "req-42")
	ctx = WithDatabase(ctx, "notes")

	logger.Info(ctx, "search completed")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, traceID.String(), lines[0]["trace_id"])
	assert.Equal(t, spanID.String(), lines[0]["span_id"])
	assert.Equal(t, true, lines[0]["trace_sampled"])
	assert.Equal(t, "req-42", lines[0]["request.id"])
	assert.Equal(t, "notes", lines[0]["database"])
}

func TestLogger_WithAndNamed(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	child := logger.Named("http").With(zap.String("component", "server"))
	child.Info(context.Background(), "listening")
	child.Underlying().Info("direct")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, "http", line["logger"])
		assert.Equal(t, "server", line["component"])
		assert.Contains(t, line["caller"], "logger_test.go")
	}
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Format = "console" })

	logger.Info(context.Background(), "ready")
	assert.Contains(t, buf.String(), "ready")
	assert.Contains(t, buf.String(), "info")
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	_, err := NewLogger(&Config{Format: "xml"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.LoggingConfig{Level: "debug", Format: "console", Sampling: false})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.False(t, cfg.Sampling.Enabled)

	cfg, err = FromConfig(config.LoggingConfig{Level: "TRACE"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	_, err = FromConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = FromConfig(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "from context")
	tl.AssertLogged(t, zapcore.InfoLevel, "from context")
}
