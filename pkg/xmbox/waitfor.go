package xmbox

import (
	"context"

	"github.com/pkg/errors"
)

// WaitFor returns the first message whose content equals target and, when
// source is not empty, whose sender equals source. Everything else is
// deferred with HOLD. A bounded wait that expires returns the empty message,
// a failed receive returns an ERROR or SYSCALL_INTERRUPTED message.
func (mb *Mailbox) WaitFor(ctx context.Context, target, source string, opts Options) Message {
	source = NormalizeIdentifier(source)
	deadline := opts.deadline(mb.rto)
	for {
		msg, err := mb.receive(ctx, deadline)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				continue
			}
			return errorMessage(err)
		}
		if msg.IsEmpty() {
			timeouts.WithLabelValues(mb.name, "wait_for").Inc()
			return msg
		}
		if msg.Content == target && (source == "" || msg.Sender == source) {
			return msg
		}
		mb.deferStray(ctx, msg)
	}
}

func (mb *Mailbox) WaitForMessage(ctx context.Context, target string) Message {
	return mb.WaitFor(ctx, target, "", Normal)
}

func (mb *Mailbox) WaitForMessageFrom(ctx context.Context, target, source string) Message {
	return mb.WaitFor(ctx, target, source, Normal)
}

func (mb *Mailbox) TimedWaitForMessage(ctx context.Context, target string) Message {
	return mb.WaitFor(ctx, target, "", Timed)
}

func (mb *Mailbox) TimedWaitForMessageFrom(ctx context.Context, target, source string) Message {
	return mb.WaitFor(ctx, target, source, Timed)
}
