package xmbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"doorbus/pkg/xlog"
	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State is the receive-side protocol state of a mailbox.
type State int

const (
	StateIdle State = iota
	StateServing
	StateAwaitingData
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateServing:
		return "SERVING"
	case StateAwaitingData:
		return "AWAITING_DATA"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Mailbox is one protocol endpoint: the owner of a named queue.
//
// A mailbox is single-owner. Its protocol methods must not be called from
// more than one goroutine at a time.
type Mailbox struct {
	*Reference
	settings Settings
	release  func()

	rto     time.Duration
	baseTTL int

	waiting []WaitEntry
	peers   map[string]*Reference
	state   State
	serving string

	closeOnce sync.Once
	closeErr  error
}

// NewMailbox claims id in this process and opens its queue for receiving.
func NewMailbox(ctx context.Context, backend xmq.Backend, id string, settings Settings) (*Mailbox, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	name := NormalizeIdentifier(id)
	if name == "" {
		return nil, errors.Wrapf(ErrEmptyIdentifier, "%q", id)
	}
	if backend == nil {
		return nil, errors.Wrap(xmq.ErrUnknownBackend, "nil backend")
	}
	release, err := backend.Claim("/" + name)
	if err != nil {
		if errors.Is(err, xmq.ErrDuplicate) {
			return nil, errors.Wrapf(ErrDuplicateIdentifier, "%s", name)
		}
		return nil, errors.Wrapf(err, "claim mailbox %s", name)
	}
	ref, err := openReference(ctx, backend, name, xmq.ModeRead, settings)
	if err != nil {
		release()
		return nil, err
	}
	mb := &Mailbox{
		Reference: ref,
		settings:  settings,
		release:   release,
		rto:       settings.RTO,
		baseTTL:   settings.BaseTTL,
		peers:     make(map[string]*Reference),
	}
	if settings.DrainOnOpen {
		n, err := mb.Drain(ctx)
		if err != nil {
			_ = mb.Close(ctx)
			return nil, err
		}
		if n > 0 {
			xlog.Get(ctx).Info("Mailbox drained stale messages", zap.String("mailbox", name), zap.Int("count", n))
		}
	}
	waitingList.WithLabelValues(name).Set(0)
	return mb, nil
}

// MustNewMailbox is NewMailbox for role startup: failure is fatal.
func MustNewMailbox(ctx context.Context, backend xmq.Backend, id string, settings Settings) *Mailbox {
	mb, err := NewMailbox(ctx, backend, id, settings)
	if err != nil {
		xlog.Fatal(ctx, "Mailbox construction failed", zap.String("mailbox", id), zap.Error(err))
	}
	return mb
}

func (mb *Mailbox) State() State { return mb.state }

// Serving is the sender being served, empty when idle.
func (mb *Mailbox) Serving() string { return mb.serving }

func (mb *Mailbox) setState(s State, serving string) {
	mb.state = s
	mb.serving = serving
}

// Peer returns the cached write handle on name, attaching it on first use.
func (mb *Mailbox) Peer(ctx context.Context, name string) (*Reference, error) {
	name = NormalizeIdentifier(name)
	if p, ok := mb.peers[name]; ok {
		return p, nil
	}
	p, err := NewReference(ctx, mb.backend, name, mb.settings)
	if err != nil {
		return nil, err
	}
	mb.peers[name] = p
	return p, nil
}

// reattach replaces the cached handle on name. Exchanges start here so they
// reach the queue currently bound to name.
func (mb *Mailbox) reattach(ctx context.Context, name string) (*Reference, error) {
	mb.evict(ctx, NormalizeIdentifier(name))
	return mb.Peer(ctx, name)
}

func (mb *Mailbox) evict(ctx context.Context, name string) {
	if p, ok := mb.peers[name]; ok {
		delete(mb.peers, name)
		_ = p.Close(ctx)
	}
}

// post writes content to dest and counts it.
func (mb *Mailbox) post(ctx context.Context, dest, content string, deadline time.Time) error {
	p, err := mb.Peer(ctx, dest)
	if err != nil {
		return err
	}
	if err := p.Post(ctx, mb.name, content, deadline); err != nil {
		if !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrMessageTooLong) {
			transportErrors.WithLabelValues(mb.name, "send").Inc()
			mb.evict(ctx, p.Name())
		}
		return err
	}
	messagesSent.WithLabelValues(mb.name, Classify(content).String()).Inc()
	return nil
}

// control sends a handshake token, bounded by one RTO.
func (mb *Mailbox) control(ctx context.Context, dest string, t Type) error {
	return mb.post(ctx, dest, t.String(), time.Now().Add(mb.rto))
}

func (mb *Mailbox) ReadyToSend(ctx context.Context, dest string) error {
	return mb.control(ctx, dest, TypeRTS)
}

func (mb *Mailbox) ClearToSend(ctx context.Context, dest string) error {
	return mb.control(ctx, dest, TypeCTS)
}

func (mb *Mailbox) Acknowledge(ctx context.Context, dest string) error {
	return mb.control(ctx, dest, TypeAck)
}

// Hold tells dest this mailbox is busy and will serve it later.
func (mb *Mailbox) Hold(ctx context.Context, dest string) error {
	if err := mb.control(ctx, dest, TypeHold); err != nil {
		return err
	}
	holdsSent.WithLabelValues(mb.name).Inc()
	return nil
}

// receive performs one raw receive. A wait that ends without a message
// returns the empty message and no error.
func (mb *Mailbox) receive(ctx context.Context, deadline time.Time) (Message, error) {
	raw, err := mb.queue.Receive(ctx, deadline)
	if err != nil {
		if xmq.IsNoMessage(err) {
			return Message{}, nil
		}
		if !errors.Is(err, xmq.ErrInterrupted) {
			transportErrors.WithLabelValues(mb.name, "receive").Inc()
		}
		return Message{}, errors.WithMessagef(err, "mailbox %s", mb.name)
	}
	msg, err := Decode(string(raw))
	if err != nil {
		xlog.Get(ctx).Warn("Mailbox dropped malformed message", zap.String("mailbox", mb.name), zap.Error(err))
		return Message{}, err
	}
	messagesReceived.WithLabelValues(mb.name, msg.Type.String()).Inc()
	return msg, nil
}

// errorMessage classifies a receive failure.
func errorMessage(err error) Message {
	if errors.Is(err, xmq.ErrInterrupted) {
		return Message{Type: TypeSyscallInterrupted, Content: err.Error()}
	}
	return Message{Type: TypeError, Content: err.Error()}
}

// ReceiveImmediate is a single raw receive with no handshake and no ACK.
// A timeout or an empty queue returns the empty message.
func (mb *Mailbox) ReceiveImmediate(ctx context.Context, opts Options) Message {
	msg, err := mb.receive(ctx, opts.deadline(mb.rto))
	if err != nil {
		return errorMessage(err)
	}
	return msg
}

// deferStray answers a message that arrived out of turn with HOLD and queues
// its sender. Stray handshake replies start nothing and are dropped.
func (mb *Mailbox) deferStray(ctx context.Context, msg Message) {
	if msg.Type.isControl() {
		xlog.Get(ctx).Debug("Mailbox dropped stray reply", zap.String("mailbox", mb.name), zap.Stringer("msg", msg))
		return
	}
	if err := mb.Hold(ctx, msg.Sender); err != nil {
		xlog.Get(ctx).Warn("Mailbox hold failed", zap.String("mailbox", mb.name),
			zap.String("sender", msg.Sender), zap.Error(err))
	}
	mb.enqueue(msg.Sender, msg.Type)
}

// Drain discards every message already in the queue.
func (mb *Mailbox) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := mb.queue.Receive(ctx, xmq.Poll)
		if err != nil {
			if xmq.IsNoMessage(err) {
				return n, nil
			}
			return n, errors.Wrapf(err, "drain mailbox %s", mb.name)
		}
		n++
	}
}

// Close detaches the peers and the own queue and releases the identifier.
func (mb *Mailbox) Close(ctx context.Context) error {
	mb.closeOnce.Do(func() {
		var err error
		for name, p := range mb.peers {
			err = multierr.Append(err, p.Close(ctx))
			delete(mb.peers, name)
		}
		err = multierr.Append(err, mb.Reference.Close(ctx))
		if mb.settings.UnlinkOnClose {
			if uerr := mb.backend.Unlink("/" + mb.name); uerr != nil && !errors.Is(uerr, xmq.ErrNotExist) {
				err = multierr.Append(err, errors.Wrapf(uerr, "unlink mailbox %s", mb.name))
			}
		}
		mb.release()
		waitingList.DeleteLabelValues(mb.name)
		mb.closeErr = err
		xlog.Get(ctx).Debug("Mailbox closed", zap.String("mailbox", mb.name), zap.Error(err))
	})
	return mb.closeErr
}
