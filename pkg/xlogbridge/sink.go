// Package xlogbridge ships log lines from producer goroutines and processes to
// one writer. Producers log through a Client, which sends each line without a
// handshake; the Server forwards what arrives to a Sink.
package xlogbridge

import (
	"context"

	"doorbus/pkg/xlog"

	"go.uber.org/zap/zapcore"
)

// Sink is the log capability. Log returns the sink so calls can be chained.
type Sink interface {
	Log(ctx context.Context, line string) Sink
	Name() string
}

type nopSink struct{}

// Nop discards every line.
func Nop() Sink { return nopSink{} }

func (nopSink) Log(ctx context.Context, line string) Sink { return nopSink{} }
func (nopSink) Name() string                              { return "nop" }

// FileSink writes lines as JSON records to a size-capped file.
type FileSink struct {
	file   *xlog.RotatingFile
	logger xlog.Logger
}

func NewFileSink(path string, maxBytes int64) (*FileSink, error) {
	file, err := xlog.OpenRotatingFile(path, maxBytes)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: file, logger: xlog.New(file, zapcore.DebugLevel, true)}, nil
}

func (s *FileSink) Log(ctx context.Context, line string) Sink {
	s.logger.Info(line)
	return s
}

func (s *FileSink) Name() string { return s.file.Path() }

func (s *FileSink) Close() error {
	_ = s.logger.Raw().Sync()
	return s.file.Close()
}
