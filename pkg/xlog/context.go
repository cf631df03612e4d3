package xlog

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKeyType int

const loggerKey loggerKeyType = iota

// NewContext binds a child logger carrying fields to a derived context.
func NewContext(ctx context.Context, fields ...zapcore.Field) context.Context {
	return context.WithValue(ctx, loggerKey, newLogger(Get(ctx).Raw().With(fields...)))
}

// Named binds a child logger with a name segment, e.g. the role of the process.
func Named(ctx context.Context, name string, fields ...zapcore.Field) context.Context {
	return context.WithValue(ctx, loggerKey, newLogger(Get(ctx).Raw().Named(name).With(fields...)))
}

// FromContext moves the logger of srcCtx into destCtx.
func FromContext(srcCtx, destCtx context.Context, fields ...zapcore.Field) context.Context {
	srcLogger := Get(srcCtx).Raw()
	return context.WithValue(destCtx, loggerKey, newLogger(srcLogger.With(fields...)))
}

// WithLogger binds an explicit logger, used by tests and bridge sinks.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

func Get(ctx context.Context) Logger {
	if ctx == nil {
		return gLogger
	}
	if ctxLogger, ok := ctx.Value(loggerKey).(Logger); ok {
		return ctxLogger
	}
	return gLogger
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return newLogger(zap.NewNop())
}
