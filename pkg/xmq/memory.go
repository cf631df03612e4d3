package xmq

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Memory is the process-wide in-memory backend registered as "memory".
var Memory = NewMemoryBackend("memory")

func init() {
	Register(Memory)
}

type memoryQueue struct {
	name    string
	ch      chan []byte
	msgSize int
}

type MemoryBackend struct {
	name   string
	mu     sync.Mutex
	queues map[string]*memoryQueue
	claims claimSet
}

// NewMemoryBackend returns an isolated namespace of in-memory queues.
func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{name: name, queues: make(map[string]*memoryQueue)}
}

func (b *MemoryBackend) Name() string { return b.name }

func (b *MemoryBackend) Open(ctx context.Context, name string, mode Mode, attr Attr) (Queue, error) {
	if name == "" {
		return nil, errors.Wrap(ErrNotExist, "empty queue name")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[name]
	if q == nil {
		if err := attr.validate(); err != nil {
			return nil, err
		}
		q = &memoryQueue{name: name, ch: make(chan []byte, attr.MaxMsg), msgSize: attr.MsgSize}
		b.queues[name] = q
	}
	return &memoryHandle{q: q, mode: mode, flags: attr.Flags, closeCh: make(chan struct{})}, nil
}

// Unlink removes the name; open handles keep working on the detached queue.
func (b *MemoryBackend) Unlink(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		return errors.Wrapf(ErrNotExist, "%q", name)
	}
	delete(b.queues, name)
	return nil
}

func (b *MemoryBackend) Claim(name string) (func(), error) {
	return b.claims.claim(name)
}

type memoryHandle struct {
	q    *memoryQueue
	mode Mode

	mu    sync.Mutex
	flags int

	closeOnce sync.Once
	closeCh   chan struct{}
}

func (h *memoryHandle) Name() string { return h.q.name }
func (h *memoryHandle) Mode() Mode   { return h.mode }

func (h *memoryHandle) nonblocking() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags&FlagNonblock != 0
}

func (h *memoryHandle) closed() bool {
	select {
	case <-h.closeCh:
		return true
	default:
		return false
	}
}

func (h *memoryHandle) Send(ctx context.Context, msg []byte, deadline time.Time) error {
	if h.closed() {
		return errors.Wrapf(ErrClosed, "send %s", h.q.name)
	}
	if h.mode&ModeWrite == 0 {
		return errors.Wrapf(ErrPermission, "send %s", h.q.name)
	}
	if len(msg) > h.q.msgSize {
		return errors.Wrapf(ErrTooLong, "send %s: %d > %d", h.q.name, len(msg), h.q.msgSize)
	}
	data := append([]byte(nil), msg...)

	select {
	case h.q.ch <- data:
		return nil
	default:
	}
	if h.nonblocking() {
		return errors.Wrapf(ErrFull, "send %s", h.q.name)
	}
	timeout, stop := deadlineChan(deadline)
	defer stop()
	select {
	case h.q.ch <- data:
		return nil
	case <-timeout:
		return errors.Wrapf(ErrTimeout, "send %s", h.q.name)
	case <-ctx.Done():
		return errors.Wrapf(ErrInterrupted, "send %s: %v", h.q.name, ctx.Err())
	case <-h.closeCh:
		return errors.Wrapf(ErrClosed, "send %s", h.q.name)
	}
}

func (h *memoryHandle) Receive(ctx context.Context, deadline time.Time) ([]byte, error) {
	if h.closed() {
		return nil, errors.Wrapf(ErrClosed, "receive %s", h.q.name)
	}
	if h.mode&ModeRead == 0 {
		return nil, errors.Wrapf(ErrPermission, "receive %s", h.q.name)
	}
	select {
	case msg := <-h.q.ch:
		return msg, nil
	default:
	}
	if h.nonblocking() {
		return nil, errors.Wrapf(ErrEmpty, "receive %s", h.q.name)
	}
	timeout, stop := deadlineChan(deadline)
	defer stop()
	select {
	case msg := <-h.q.ch:
		return msg, nil
	case <-timeout:
		return nil, errors.Wrapf(ErrTimeout, "receive %s", h.q.name)
	case <-ctx.Done():
		return nil, errors.Wrapf(ErrInterrupted, "receive %s: %v", h.q.name, ctx.Err())
	case <-h.closeCh:
		return nil, errors.Wrapf(ErrClosed, "receive %s", h.q.name)
	}
}

func (h *memoryHandle) Attr() (Attr, error) {
	if h.closed() {
		return Attr{}, errors.Wrapf(ErrClosed, "attr %s", h.q.name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return Attr{Flags: h.flags, MaxMsg: cap(h.q.ch), MsgSize: h.q.msgSize, CurMsgs: len(h.q.ch)}, nil
}

func (h *memoryHandle) SetAttr(attr Attr) (Attr, error) {
	old, err := h.Attr()
	if err != nil {
		return Attr{}, err
	}
	h.mu.Lock()
	h.flags = attr.Flags & FlagNonblock
	h.mu.Unlock()
	return old, nil
}

func (h *memoryHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closeCh)
	})
	return nil
}

// deadlineChan fires at deadline, never for the zero time.
func deadlineChan(deadline time.Time) (<-chan time.Time, func()) {
	if deadline.IsZero() {
		return nil, func() {}
	}
	timer := time.NewTimer(time.Until(deadline))
	return timer.C, func() { timer.Stop() }
}
