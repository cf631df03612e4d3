package xlogbridge

import (
	"context"

	"doorbus/pkg/xlog"
	"doorbus/pkg/xmbox"
	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrNilSink = errors.New("log bridge needs a sink")

// FormatLine is the record written for one bridged line.
func FormatLine(sender, content string) string {
	return "TL: " + sender + " : " + content
}

// Server receives bridged lines and forwards them to its sink.
type Server struct {
	mb   *xmbox.Mailbox
	sink Sink
}

func NewServer(ctx context.Context, backend xmq.Backend, name string, settings xmbox.Settings, sink Sink) (*Server, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	mb, err := xmbox.NewMailbox(ctx, backend, ServerName(name), settings)
	if err != nil {
		return nil, err
	}
	return &Server{mb: mb, sink: sink}, nil
}

func (s *Server) Name() string { return s.mb.Name() }

// ServeOnce waits up to one RTO for a line. It reports whether one was forwarded.
func (s *Server) ServeOnce(ctx context.Context) (bool, error) {
	msg := s.mb.ReceiveImmediate(ctx, xmbox.Timed)
	switch {
	case msg.IsEmpty():
		return false, nil
	case msg.Type == xmbox.TypeSyscallInterrupted:
		return false, errors.Wrap(xmq.ErrInterrupted, msg.Content)
	case msg.Type == xmbox.TypeError && msg.Sender == "":
		xlog.Get(ctx).Warn("Log bridge receive failed", zap.String("server", s.Name()), zap.String("err", msg.Content))
		return false, nil
	}
	s.sink = s.sink.Log(ctx, FormatLine(msg.Sender, msg.Content))
	return true, nil
}

// Serve forwards lines until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	xlog.Get(ctx).Info("Log bridge serving", zap.String("server", s.Name()), zap.String("sink", s.sink.Name()))
	for {
		if _, err := s.ServeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Server) Close(ctx context.Context) error {
	return s.mb.Close(ctx)
}
