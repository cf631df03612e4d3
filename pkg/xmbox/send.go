package xmbox

import (
	"context"
	"time"

	"doorbus/pkg/xlog"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Send delivers content to dest with the full handshake, blocking without bound.
func (mb *Mailbox) Send(ctx context.Context, dest, content string) error {
	return mb.SendWith(ctx, dest, content, Normal)
}

// TimedSend is Send with every wait bounded by the RTO.
func (mb *Mailbox) TimedSend(ctx context.Context, dest, content string) error {
	return mb.SendWith(ctx, dest, content, Timed)
}

// SendWith runs RTS, waits for CTS, transmits and waits for the ACK.
// Connectionless skips the handshake and swallows failures.
func (mb *Mailbox) SendWith(ctx context.Context, dest, content string, opts Options) error {
	if opts.Has(Connectionless) {
		mb.sendConnectionless(ctx, dest, content, opts)
		return nil
	}
	if err := mb.handshake(ctx, dest, content, opts); err != nil {
		return err
	}
	return mb.awaitAck(ctx, NormalizeIdentifier(dest), opts)
}

// SendWithoutAck performs the handshake and transmits, without waiting for the ACK.
func (mb *Mailbox) SendWithoutAck(ctx context.Context, dest, content string, opts Options) error {
	if opts.Has(Connectionless) {
		mb.sendConnectionless(ctx, dest, content, opts)
		return nil
	}
	return mb.handshake(ctx, dest, content, opts)
}

// SendImmediate transmits content with no handshake. The write is bounded by the RTO.
func (mb *Mailbox) SendImmediate(ctx context.Context, dest, content string) error {
	if err := checkPayload(content); err != nil {
		return err
	}
	if _, err := mb.reattach(ctx, dest); err != nil {
		return err
	}
	return mb.post(ctx, dest, content, time.Now().Add(mb.rto))
}

func (mb *Mailbox) sendConnectionless(ctx context.Context, dest, content string, opts Options) {
	err := checkPayload(content)
	if err == nil {
		_, err = mb.reattach(ctx, dest)
	}
	if err == nil {
		err = mb.post(ctx, dest, content, opts.deadline(mb.rto))
	}
	if err != nil {
		xlog.Get(ctx).Debug("Connectionless send dropped", zap.String("mailbox", mb.name),
			zap.String("dest", dest), zap.Error(err))
	}
}

// handshake is RTS, hold until CTS, transmit.
func (mb *Mailbox) handshake(ctx context.Context, dest, content string, opts Options) error {
	if err := checkPayload(content); err != nil {
		return err
	}
	p, err := mb.reattach(ctx, dest)
	if err != nil {
		return err
	}
	// fail before the handshake rather than after CTS
	if err := Validate(mb.name, content, p.MaxMsgSize()); err != nil {
		return err
	}
	if err := mb.ReadyToSend(ctx, p.Name()); err != nil {
		return err
	}
	if err := mb.awaitCTS(ctx, p.Name(), opts); err != nil {
		return err
	}
	return mb.post(ctx, p.Name(), content, opts.deadline(mb.rto))
}

// awaitCTS waits for CTS from dest. HOLD from dest means keep waiting.
func (mb *Mailbox) awaitCTS(ctx context.Context, dest string, opts Options) error {
	deadline := opts.deadline(mb.rto)
	for {
		msg, err := mb.receive(ctx, deadline)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				continue
			}
			return err
		}
		if msg.IsEmpty() {
			timeouts.WithLabelValues(mb.name, "cts").Inc()
			return errors.Wrapf(ErrNoCTS, "from %s", dest)
		}
		if msg.Sender == dest {
			switch msg.Type {
			case TypeCTS:
				return nil
			case TypeHold:
				xlog.Get(ctx).Debug("Mailbox held by peer", zap.String("mailbox", mb.name), zap.String("dest", dest))
				continue
			}
		}
		mb.deferStray(ctx, msg)
	}
}

// awaitAck waits for ACK from dest. Every other message, malformed input and,
// for bounded waits, every expiry spends one unit of TTL.
func (mb *Mailbox) awaitAck(ctx context.Context, dest string, opts Options) error {
	for ttl := mb.baseTTL; ttl > 0; ttl-- {
		msg, err := mb.receive(ctx, opts.deadline(mb.rto))
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				continue
			}
			return err
		}
		if msg.IsEmpty() {
			timeouts.WithLabelValues(mb.name, "ack").Inc()
			continue
		}
		if msg.Sender == dest && msg.Type == TypeAck {
			return nil
		}
		mb.deferStray(ctx, msg)
	}
	ttlExhausted.WithLabelValues(mb.name).Inc()
	return errors.Wrapf(ErrTTLExhausted, "waiting for ACK from %s", dest)
}
