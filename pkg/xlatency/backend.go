// Package xlatency decorates an xmq backend with message loss and delay, so the
// mailbox protocol can be run against the unreliable queues it is built for.
package xlatency

import (
	"context"
	"time"

	"doorbus/pkg/xactor"
	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
)

var ErrInvalidConfig = errors.New("invalid link config")

type Config struct {
	Loss    uint32        `env:"LOSS" envDefault:"0" yaml:"loss"`        // drop rate 0~100
	Latency time.Duration `env:"LATENCY" envDefault:"0s" yaml:"latency"` // upper bound of the random delay
	Seed    int64         `env:"SEED" yaml:"seed"`                       // 0 seeds from the clock

	// Match limits loss to the messages it accepts. Nil accepts all.
	Match func(queue string, msg []byte) bool `yaml:"-"`
}

func (c Config) Enabled() bool { return c.Loss > 0 || c.Latency > 0 }

func (c Config) Validate() error {
	if c.Loss > 100 || c.Latency < 0 {
		return errors.Wrapf(ErrInvalidConfig, "loss=%d latency=%v", c.Loss, c.Latency)
	}
	return nil
}

// Backend writes through a link actor. Read handles and names pass through.
type Backend struct {
	inner xmq.Backend
	actor *xactor.Actor
}

// Wrap starts the link actor for inner. Close stops it.
func Wrap(ctx context.Context, inner xmq.Backend, conf Config) (*Backend, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	actor, err := xactor.Spawn(ctx, newLink("xlatency."+inner.Name(), conf))
	if err != nil {
		return nil, errors.Wrapf(err, "wrap backend %s", inner.Name())
	}
	return &Backend{inner: inner, actor: actor}, nil
}

func (b *Backend) Name() string { return b.inner.Name() }

func (b *Backend) Open(ctx context.Context, name string, mode xmq.Mode, attr xmq.Attr) (xmq.Queue, error) {
	q, err := b.inner.Open(ctx, name, mode, attr)
	if err != nil || mode&xmq.ModeWrite == 0 {
		return q, err
	}
	return &handle{Queue: q, actor: b.actor}, nil
}

func (b *Backend) Unlink(name string) error { return b.inner.Unlink(name) }

func (b *Backend) Claim(name string) (func(), error) { return b.inner.Claim(name) }

func (b *Backend) Stats(ctx context.Context) (Stats, error) {
	out, err := b.actor.Call(ctx, &statsReq{})
	if err != nil {
		return Stats{}, err
	}
	return out.(*statsResp).stats, nil
}

// Close stops the link. Messages still delayed are not delivered.
func (b *Backend) Close(ctx context.Context) {
	b.actor.Stop(ctx)
}

// handle hands writes to the link. A successful Send means the message was
// accepted, not that it will arrive.
type handle struct {
	xmq.Queue
	actor *xactor.Actor
}

func (h *handle) Send(ctx context.Context, msg []byte, deadline time.Time) error {
	attr, err := h.Queue.Attr()
	if err != nil {
		return err
	}
	if len(msg) > attr.MsgSize {
		return errors.Wrapf(xmq.ErrTooLong, "send %s: %d > %d", h.Name(), len(msg), attr.MsgSize)
	}
	req := &sendReq{q: h.Queue, msg: append([]byte(nil), msg...)}
	if err := h.actor.Cast(ctx, req); err != nil {
		if errors.Is(err, xactor.ErrActorStopped) {
			return errors.Wrapf(xmq.ErrClosed, "send %s: link stopped", h.Name())
		}
		return errors.Wrapf(xmq.ErrInterrupted, "send %s: %v", h.Name(), err)
	}
	return nil
}

func (h *handle) Close() error {
	if err := h.actor.Cast(context.Background(), &closeReq{q: h.Queue}); err != nil {
		return h.Queue.Close()
	}
	return nil
}
