package xmq

import "github.com/pkg/errors"

var (
	ErrTimeout        = errors.New("queue wait timed out")
	ErrFull           = errors.New("queue full")
	ErrEmpty          = errors.New("queue empty")
	ErrTooLong        = errors.New("message too long")
	ErrNotExist       = errors.New("queue does not exist")
	ErrClosed         = errors.New("queue handle closed")
	ErrInterrupted    = errors.New("queue wait interrupted")
	ErrPermission     = errors.New("queue opened without required mode")
	ErrInvalidAttr    = errors.New("invalid queue attributes")
	ErrDuplicate      = errors.New("queue already owned")
	ErrUnsupported    = errors.New("queue backend unsupported on this platform")
	ErrUnknownBackend = errors.New("unknown queue backend")
)

// IsNoMessage reports a wait that ended without a message: timeout or empty non-blocking queue.
func IsNoMessage(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrEmpty)
}
