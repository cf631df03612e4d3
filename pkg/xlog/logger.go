package xlog

import (
	"context"

	"go.uber.org/zap"
)

type Logger interface {
	Sugar() *zap.SugaredLogger

	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field) // 记录后退出进程

	// 返回原始zap.Logger
	Raw() *zap.Logger
}

type xlogger struct {
	*zap.Logger
}

func newLogger(l *zap.Logger) Logger {
	return &xlogger{Logger: l}
}

func (log *xlogger) Raw() *zap.Logger { return log.Logger }

// Fatal logs a configuration or resource-acquisition failure and terminates the process.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Get(ctx).Fatal(msg, fields...)
}
