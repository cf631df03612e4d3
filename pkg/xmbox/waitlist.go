package xmbox

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// WaitEntry is a sender deferred with HOLD, and the type of what it sent.
type WaitEntry struct {
	Sender string
	Reason Type
}

func (mb *Mailbox) enqueue(sender string, reason Type) {
	for _, e := range mb.waiting {
		if e.Sender == sender && e.Reason == reason {
			return
		}
	}
	mb.waiting = append(mb.waiting, WaitEntry{Sender: sender, Reason: reason})
	waitingList.WithLabelValues(mb.name).Set(float64(len(mb.waiting)))
}

func (mb *Mailbox) dequeue() (WaitEntry, bool) {
	if len(mb.waiting) == 0 {
		return WaitEntry{}, false
	}
	e := mb.waiting[0]
	mb.waiting = mb.waiting[1:]
	waitingList.WithLabelValues(mb.name).Set(float64(len(mb.waiting)))
	return e, true
}

// Waiting returns a copy of the waiting list, oldest first.
func (mb *Mailbox) Waiting() []WaitEntry {
	return append([]WaitEntry(nil), mb.waiting...)
}

// GetNext returns the longest-waiting sender. With an empty list, or with
// IgnoreQueue, it waits for a fresh RTS instead; other traffic is deferred.
func (mb *Mailbox) GetNext(ctx context.Context, opts Options) (string, error) {
	if !opts.Has(IgnoreQueue) {
		if e, ok := mb.dequeue(); ok {
			return e.Sender, nil
		}
	}
	return mb.awaitRTS(ctx, opts.deadline(mb.rto))
}

func (mb *Mailbox) awaitRTS(ctx context.Context, deadline time.Time) (string, error) {
	for {
		msg, err := mb.receive(ctx, deadline)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				continue
			}
			return "", err
		}
		if msg.IsEmpty() {
			timeouts.WithLabelValues(mb.name, "rts").Inc()
			return "", errors.Wrapf(ErrTimeout, "mailbox %s waiting for RTS", mb.name)
		}
		if msg.Type == TypeRTS {
			return msg.Sender, nil
		}
		mb.deferStray(ctx, msg)
	}
}
