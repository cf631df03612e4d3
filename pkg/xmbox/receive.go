package xmbox

import (
	"context"
	"time"

	"doorbus/pkg/xlog"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Receive serves the next sender with CTS, waits for its data and acknowledges it.
func (mb *Mailbox) Receive(ctx context.Context) (Message, error) {
	return mb.serve(ctx, Normal, true)
}

// ReceiveWithoutAck is Receive without the final ACK.
func (mb *Mailbox) ReceiveWithoutAck(ctx context.Context) (Message, error) {
	return mb.serve(ctx, Normal, false)
}

// TimedReceive bounds each wait of Receive by the RTO.
func (mb *Mailbox) TimedReceive(ctx context.Context) (Message, error) {
	return mb.serve(ctx, Timed, true)
}

func (mb *Mailbox) TimedReceiveWithoutAck(ctx context.Context) (Message, error) {
	return mb.serve(ctx, Timed, false)
}

// ReceiveWith is Receive with explicit wait options.
func (mb *Mailbox) ReceiveWith(ctx context.Context, opts Options) (Message, error) {
	return mb.serve(ctx, opts, true)
}

func (mb *Mailbox) serve(ctx context.Context, opts Options, ack bool) (Message, error) {
	sender, err := mb.GetNext(ctx, opts)
	if err != nil {
		return Message{}, err
	}
	mb.setState(StateServing, sender)
	defer mb.setState(StateIdle, "")

	if _, err := mb.reattach(ctx, sender); err != nil {
		return Message{}, err
	}
	if err := mb.ClearToSend(ctx, sender); err != nil {
		return Message{}, err
	}
	mb.setState(StateAwaitingData, sender)
	msg, err := mb.awaitData(ctx, sender, opts.deadline(mb.rto))
	if err != nil {
		return Message{}, err
	}
	if ack {
		if err := mb.Acknowledge(ctx, sender); err != nil {
			return msg, errors.WithMessage(err, "data received")
		}
	}
	return msg, nil
}

// awaitData waits for the payload of the sender being served.
func (mb *Mailbox) awaitData(ctx context.Context, sender string, deadline time.Time) (Message, error) {
	for {
		msg, err := mb.receive(ctx, deadline)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				continue
			}
			return Message{}, err
		}
		if msg.IsEmpty() {
			timeouts.WithLabelValues(mb.name, "data").Inc()
			return Message{}, errors.Wrapf(ErrTimeout, "mailbox %s waiting for data from %s", mb.name, sender)
		}
		if msg.Sender == sender {
			switch msg.Type {
			case TypeRTS:
				// the sender missed our CTS
				if err := mb.ClearToSend(ctx, sender); err != nil {
					return Message{}, err
				}
				continue
			case TypeHold, TypeCTS, TypeAck:
				xlog.Get(ctx).Debug("Mailbox ignored reply while serving", zap.String("mailbox", mb.name),
					zap.Stringer("msg", msg))
				continue
			}
			return msg, nil
		}
		mb.deferStray(ctx, msg)
	}
}
