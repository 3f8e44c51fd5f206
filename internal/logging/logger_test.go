package logging

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/agentloop/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults"},
		{name: "console", mutate: func(c *Config) { c.Format = "console" }},
		{name: "bad format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: "format must be"},
		{name: "bad output", mutate: func(c *Config) { c.Output = "file" }, wantErr: "output must be"},
		{name: "zero tick", mutate: func(c *Config) { c.Sampling.Tick = 0 }, wantErr: "sampling tick"},
		{name: "empty field", mutate: func(c *Config) { c.Fields["k"] = "" }, wantErr: "empty value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			l, err := NewLogger(cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, l.Enabled(zapcore.InfoLevel))
			assert.False(t, l.Enabled(zapcore.DebugLevel))
		})
	}
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)

	_, err = FromSettings(config.LoggingConfig{Level: "nope"})
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithSessionID(ctx, 7)
	ctx = WithConversationID(ctx, "conv-9")
	ctx = WithTaskType(ctx, "filesystem")

	tl.Info(ctx, "iteration complete", zap.Int("iteration", 2))

	tl.AssertLogged(t, zapcore.InfoLevel, "iteration complete")
	tl.AssertField(t, "iteration complete", "run.id", "run-1")
	tl.AssertField(t, "iteration complete", "session.id", int64(7))
	tl.AssertField(t, "iteration complete", "conversation.id", "conv-9")
	tl.AssertField(t, "iteration complete", "task.type", "filesystem")
	tl.AssertField(t, "iteration complete", "iteration", int64(2))
}

func TestTestLogger_ForRun(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(WithRunID(context.Background(), "run-1"), "step")
	tl.Info(WithRunID(context.Background(), "run-2"), "step")
	tl.Info(context.Background(), "step")

	assert.Equal(t, 1, tl.ForRun("run-1").Len())
	assert.Equal(t, 0, tl.ForRun("run-3").Len())
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
	assert.Empty(t, ContextFields(WithConversationID(context.Background(), "")))
}

func TestContextFields_Trace(t *testing.T) {
	tp := trace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "stored logger")
	tl.AssertLogged(t, zapcore.WarnLevel, "stored logger")
}

func TestTestLogger_TraceAndReset(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "prompt dump")
	tl.AssertLogged(t, TraceLevel, "prompt dump")

	tl.Reset()
	assert.Empty(t, tl.All())
	tl.AssertNotLogged(t, TraceLevel, "prompt dump")
}

func TestSecretFields(t *testing.T) {
	assert.Equal(t, "[REDACTED:6]", Secret("api_key", config.Secret("sk-abc")).String)
	assert.Equal(t, "", Secret("api_key", config.Secret("")).String)
	assert.Equal(t, "[REDACTED:3]", RedactedString("token", "abc").String)
}

func TestSampledCore_ErrorsAlwaysPass(t *testing.T) {
	tl := NewTestLogger()
	core := newSampledCore(tl.Underlying().Core(), SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(1e9),
		Initial:    1,
		Thereafter: 0,
	})
	zl := zap.New(core)
	for i := 0; i < 5; i++ {
		zl.Info("sampled")
		zl.Error("kept")
	}
	assert.Equal(t, 1, tl.FilterMessage("sampled").Len())
	assert.Equal(t, 5, tl.FilterMessage("kept").Len())
}
