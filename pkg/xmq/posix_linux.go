//go:build linux

package xmq

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pollSlice bounds one blocking syscall so context cancellation is noticed.
const pollSlice = 100 * time.Millisecond

// Posix is the Linux POSIX message queue backend registered as "posix".
var Posix = &PosixBackend{}

func init() {
	Register(Posix)
}

// mqAttr is struct mq_attr: four longs plus reserved padding.
type mqAttr struct {
	Flags   int
	Maxmsg  int
	Msgsize int
	Curmsgs int
	_       [4]int
}

type PosixBackend struct {
	claims claimSet
}

func (b *PosixBackend) Name() string { return "posix" }

// kernelName drops the leading slash, the syscalls take the bare name.
func kernelName(name string) string {
	return strings.TrimLeft(name, "/")
}

func (b *PosixBackend) Open(ctx context.Context, name string, mode Mode, attr Attr) (Queue, error) {
	if err := attr.validate(); err != nil {
		return nil, err
	}
	kname := kernelName(name)
	if kname == "" {
		return nil, errors.Wrap(ErrNotExist, "empty queue name")
	}
	namePtr, err := unix.BytePtrFromString(kname)
	if err != nil {
		return nil, errors.Wrapf(err, "queue name %q", name)
	}
	flags := unix.O_CREAT | unix.O_CLOEXEC
	switch mode {
	case ModeRead:
		flags |= unix.O_RDONLY
	case ModeWrite:
		flags |= unix.O_WRONLY
	default:
		flags |= unix.O_RDWR
	}
	if attr.Flags&FlagNonblock != 0 {
		flags |= unix.O_NONBLOCK
	}
	kattr := mqAttr{Maxmsg: attr.MaxMsg, Msgsize: attr.MsgSize}
	fd, _, errno := unix.Syscall6(unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(namePtr)),
		uintptr(flags),
		uintptr(0o600),
		uintptr(unsafe.Pointer(&kattr)),
		0, 0)
	if errno != 0 {
		return nil, mapErrno(errno, "open", name, false)
	}
	h := &posixHandle{name: name, mode: mode, fd: int(fd)}
	cur, err := h.Attr()
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	h.msgSize = cur.MsgSize
	return h, nil
}

func (b *PosixBackend) Unlink(name string) error {
	namePtr, err := unix.BytePtrFromString(kernelName(name))
	if err != nil {
		return errors.Wrapf(err, "queue name %q", name)
	}
	_, _, errno := unix.Syscall(unix.SYS_MQ_UNLINK, uintptr(unsafe.Pointer(namePtr)), 0, 0)
	if errno != 0 {
		return mapErrno(errno, "unlink", name, false)
	}
	return nil
}

// Claim only sees owners inside this process; across processes identifiers
// stay unique by configuration.
func (b *PosixBackend) Claim(name string) (func(), error) {
	return b.claims.claim(kernelName(name))
}

type posixHandle struct {
	name    string
	mode    Mode
	msgSize int

	mu sync.RWMutex
	fd int
}

func (h *posixHandle) Name() string { return h.name }
func (h *posixHandle) Mode() Mode   { return h.mode }

// syscall runs fn with the descriptor read-locked, so Close waits for the
// call in flight and the number cannot be reused under it.
func (h *posixHandle) syscall(fn func(fd uintptr) (uintptr, unix.Errno)) (uintptr, unix.Errno, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.fd < 0 {
		return 0, 0, errors.Wrapf(ErrClosed, "%s", h.name)
	}
	n, errno := fn(uintptr(h.fd))
	return n, errno, nil
}

// slice returns the absolute timeout for the next syscall and whether it is the final one.
func slice(deadline time.Time) (*unix.Timespec, bool) {
	step := time.Now().Add(pollSlice)
	last := false
	if !deadline.IsZero() && deadline.Before(step) {
		step, last = deadline, true
	}
	ts := unix.NsecToTimespec(step.UnixNano())
	return &ts, last
}

func (h *posixHandle) Send(ctx context.Context, msg []byte, deadline time.Time) error {
	if len(msg) > h.msgSize {
		return errors.Wrapf(ErrTooLong, "send %s: %d > %d", h.name, len(msg), h.msgSize)
	}
	var ptr unsafe.Pointer
	if len(msg) > 0 {
		ptr = unsafe.Pointer(&msg[0])
	}
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(ErrInterrupted, "send %s: %v", h.name, err)
		}
		ts, last := slice(deadline)
		_, errno, err := h.syscall(func(fd uintptr) (uintptr, unix.Errno) {
			_, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDSEND,
				fd, uintptr(ptr), uintptr(len(msg)), 0, uintptr(unsafe.Pointer(ts)), 0)
			return 0, errno
		})
		if err != nil {
			return err
		}
		if errno == 0 {
			return nil
		}
		if errno == unix.ETIMEDOUT && !last {
			continue
		}
		return mapErrno(errno, "send", h.name, true)
	}
}

func (h *posixHandle) Receive(ctx context.Context, deadline time.Time) ([]byte, error) {
	buf := make([]byte, h.msgSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(ErrInterrupted, "receive %s: %v", h.name, err)
		}
		ts, last := slice(deadline)
		n, errno, err := h.syscall(func(fd uintptr) (uintptr, unix.Errno) {
			n, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDRECEIVE,
				fd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0, uintptr(unsafe.Pointer(ts)), 0)
			return n, errno
		})
		if err != nil {
			return nil, err
		}
		if errno == 0 {
			msg := buf[:n]
			// C peers send NUL-terminated, padded strings
			if i := bytes.IndexByte(msg, 0); i >= 0 {
				msg = msg[:i]
			}
			return msg, nil
		}
		if errno == unix.ETIMEDOUT && !last {
			continue
		}
		return nil, mapErrno(errno, "receive", h.name, false)
	}
}

func (h *posixHandle) getsetattr(in *mqAttr) (Attr, error) {
	var out mqAttr
	_, errno, err := h.syscall(func(fd uintptr) (uintptr, unix.Errno) {
		_, _, errno := unix.Syscall(unix.SYS_MQ_GETSETATTR, fd, uintptr(unsafe.Pointer(in)), uintptr(unsafe.Pointer(&out)))
		return 0, errno
	})
	if err != nil {
		return Attr{}, err
	}
	if errno != 0 {
		return Attr{}, mapErrno(errno, "getsetattr", h.name, false)
	}
	attr := Attr{MaxMsg: out.Maxmsg, MsgSize: out.Msgsize, CurMsgs: out.Curmsgs}
	if out.Flags&unix.O_NONBLOCK != 0 {
		attr.Flags = FlagNonblock
	}
	return attr, nil
}

func (h *posixHandle) Attr() (Attr, error) {
	return h.getsetattr(nil)
}

func (h *posixHandle) SetAttr(attr Attr) (Attr, error) {
	in := mqAttr{}
	if attr.Flags&FlagNonblock != 0 {
		in.Flags = unix.O_NONBLOCK
	}
	return h.getsetattr(&in)
}

func (h *posixHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	if err != nil {
		return errors.Wrapf(err, "close %s", h.name)
	}
	return nil
}

func mapErrno(errno unix.Errno, op, name string, sending bool) error {
	var sentinel error
	switch errno {
	case unix.ETIMEDOUT:
		sentinel = ErrTimeout
	case unix.EAGAIN:
		if sending {
			sentinel = ErrFull
		} else {
			sentinel = ErrEmpty
		}
	case unix.EMSGSIZE:
		sentinel = ErrTooLong
	case unix.ENOENT:
		sentinel = ErrNotExist
	case unix.EBADF:
		sentinel = ErrClosed
	case unix.EINTR:
		sentinel = ErrInterrupted
	case unix.EINVAL:
		sentinel = ErrInvalidAttr
	case unix.EACCES, unix.EPERM:
		sentinel = ErrPermission
	case unix.ENOSYS:
		sentinel = ErrUnsupported
	default:
		return errors.Wrapf(errno, "mq %s %s", op, name)
	}
	return errors.Wrapf(sentinel, "mq %s %s: %v", op, name, errno)
}
