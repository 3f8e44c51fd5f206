package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// WithOTel returns a logger that also emits every entry to provider
// through the otelzap bridge. A nil provider returns l unchanged.
func (l *Logger) WithOTel(provider log.LoggerProvider) *Logger {
	if provider == nil {
		return l
	}
	otelCore := otelzap.NewCore("github.com/fyrsmithlabs/agentloop",
		otelzap.WithLoggerProvider(provider),
	)
	zl := l.zap.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, otelCore)
	}))
	return &Logger{zap: zl, config: l.config}
}
