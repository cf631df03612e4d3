// Package xmq is the message-queue transport under the mailbox protocol:
// named, bounded, unordered-across-senders queues carrying opaque byte strings.
//
// Two backends are registered: "memory" (process-wide named queues, goroutine
// safe) and "posix" (Linux mq_* syscalls, shared across processes).
package xmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Mode is the open mode of a queue handle.
type Mode int

const (
	ModeRead Mode = 1 << iota
	ModeWrite

	ModeReadWrite = ModeRead | ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	case ModeReadWrite:
		return "rw"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// FlagNonblock makes Send/Receive fail with ErrFull/ErrEmpty instead of waiting.
const FlagNonblock = 1

// Attr mirrors struct mq_attr. Only Flags can be changed after creation.
type Attr struct {
	Flags   int
	MaxMsg  int
	MsgSize int
	CurMsgs int
}

func (a Attr) validate() error {
	if a.MaxMsg <= 0 || a.MsgSize <= 0 {
		return errors.Wrapf(ErrInvalidAttr, "maxmsg=%d msgsize=%d", a.MaxMsg, a.MsgSize)
	}
	return nil
}

// Poll as a deadline means a single attempt that does not wait.
// The zero time means wait without bound.
var Poll = time.Unix(1, 0)

// Queue is one open handle on a named queue.
type Queue interface {
	Name() string
	Mode() Mode
	Send(ctx context.Context, msg []byte, deadline time.Time) error
	Receive(ctx context.Context, deadline time.Time) ([]byte, error)
	Attr() (Attr, error)
	// SetAttr applies attr.Flags and returns the previous attributes.
	SetAttr(attr Attr) (Attr, error)
	Close() error
}

// Backend opens handles on named queues. Open creates the queue when missing,
// existing queues keep their original attributes.
type Backend interface {
	Name() string
	Open(ctx context.Context, name string, mode Mode, attr Attr) (Queue, error)
	Unlink(name string) error
	// Claim marks name as owned by a receiving endpoint of this process.
	Claim(name string) (release func(), err error)
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// Register makes a backend available by name. Duplicate names panic, call from init.
func Register(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, ok := backends[b.Name()]; ok {
		panic(fmt.Sprintf("xmq backend[%s] is repeated.", b.Name()))
	}
	backends[b.Name()] = b
}

func Get(name string) (Backend, error) {
	backendsMu.RLock()
	b := backends[name]
	backendsMu.RUnlock()
	if b == nil {
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", name)
	}
	return b, nil
}

// claimSet tracks receiving owners inside this process.
type claimSet struct {
	mu     sync.Mutex
	owners map[string]struct{}
}

func (cs *claimSet) claim(name string) (func(), error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.owners == nil {
		cs.owners = make(map[string]struct{})
	}
	if _, ok := cs.owners[name]; ok {
		return nil, errors.Wrapf(ErrDuplicate, "%q", name)
	}
	cs.owners[name] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			cs.mu.Lock()
			delete(cs.owners, name)
			cs.mu.Unlock()
		})
	}, nil
}
