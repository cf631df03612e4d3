package xmbox

import "github.com/pkg/errors"

var (
	// configuration
	ErrEmptyIdentifier     = errors.New("empty mailbox identifier")
	ErrDuplicateIdentifier = errors.New("mailbox identifier already owned")
	ErrInvalidSettings     = errors.New("invalid mailbox settings")
	ErrInvalidTimeout      = errors.New("invalid timeout")

	// message
	ErrMalformed       = errors.New("malformed message")
	ErrMessageTooLong  = errors.New("message exceeds destination size")
	ErrReservedContent = errors.New("content is a reserved control token")

	// protocol
	ErrTTLExhausted = errors.New("acknowledgement ttl exhausted")
	ErrNoCTS        = errors.New("no clear-to-send before timeout")
	ErrTimeout      = errors.New("mailbox wait timed out")
)
