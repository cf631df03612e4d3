package xmbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"doorbus/pkg/xlog"
	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NormalizeIdentifier strips every "/" the way queue names are flattened.
func NormalizeIdentifier(id string) string {
	return strings.ReplaceAll(id, "/", "")
}

// Reference is an open handle on one named queue. It owns the handle until Close.
type Reference struct {
	name    string
	backend xmq.Backend
	queue   xmq.Queue
	msgSize int

	closeOnce sync.Once
	closeErr  error
}

// NewReference opens id for writing, creating the queue with settings when missing.
func NewReference(ctx context.Context, backend xmq.Backend, id string, settings Settings) (*Reference, error) {
	return openReference(ctx, backend, id, xmq.ModeWrite, settings)
}

func openReference(ctx context.Context, backend xmq.Backend, id string, mode xmq.Mode, settings Settings) (*Reference, error) {
	name := NormalizeIdentifier(id)
	if name == "" {
		return nil, errors.Wrapf(ErrEmptyIdentifier, "%q", id)
	}
	if backend == nil {
		return nil, errors.Wrap(xmq.ErrUnknownBackend, "nil backend")
	}
	queue, err := backend.Open(ctx, "/"+name, mode, settings.attr())
	if err != nil {
		return nil, errors.Wrapf(err, "attach mailbox %s", name)
	}
	attr, err := queue.Attr()
	if err != nil {
		_ = queue.Close()
		return nil, errors.Wrapf(err, "attach mailbox %s", name)
	}
	xlog.Get(ctx).Debug("Mailbox attached", zap.String("mailbox", name), zap.Stringer("mode", mode),
		zap.Int("maxmsg", attr.MaxMsg), zap.Int("msgsize", attr.MsgSize))
	return &Reference{name: name, backend: backend, queue: queue, msgSize: attr.MsgSize}, nil
}

func (r *Reference) Name() string { return r.name }

// MaxMsgSize is the message size of the queue when it was attached.
func (r *Reference) MaxMsgSize() int { return r.msgSize }

func (r *Reference) Attr() (xmq.Attr, error) {
	return r.queue.Attr()
}

// SetAttr changes the queue flags and returns the previous attributes.
func (r *Reference) SetAttr(attr xmq.Attr) (xmq.Attr, error) {
	return r.queue.SetAttr(attr)
}

func (r *Reference) Equal(other *Reference) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.name == other.name
}

// Post writes one encoded message without any handshake.
func (r *Reference) Post(ctx context.Context, sender, content string, deadline time.Time) error {
	if err := Validate(sender, content, r.msgSize); err != nil {
		return errors.WithMessagef(err, "post to %s", r.name)
	}
	if err := r.queue.Send(ctx, []byte(Encode(sender, content)), deadline); err != nil {
		return errors.WithMessagef(err, "post to %s", r.name)
	}
	return nil
}

func (r *Reference) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		if err := r.queue.Close(); err != nil {
			r.closeErr = errors.Wrapf(err, "detach mailbox %s", r.name)
			xlog.Get(ctx).Warn("Mailbox detach failed", zap.String("mailbox", r.name), zap.Error(err))
		}
	})
	return r.closeErr
}
