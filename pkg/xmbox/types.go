package xmbox

import (
	"fmt"
	"strings"
	"time"

	"doorbus/pkg/xmq"
)

// Type classifies a decoded message by its content.
type Type int

const (
	TypeEmpty Type = iota // no message, timeout sentinel
	TypeRTS
	TypeCTS
	TypeHold
	TypeMessage // arbitrary payload
	TypeTimedOut
	TypeAck
	TypeMessageConnectionless
	TypeError
	TypeSyscallInterrupted
)

var typeTokens = [...]string{
	TypeEmpty:                 "EMPTY",
	TypeRTS:                   "RTS",
	TypeCTS:                   "CTS",
	TypeHold:                  "HOLD",
	TypeMessage:               "MESSAGE",
	TypeTimedOut:              "TIMED_OUT",
	TypeAck:                   "ACK",
	TypeMessageConnectionless: "MESSAGE_CONNECTIONLESS",
	TypeError:                 "ERROR",
	TypeSyscallInterrupted:    "SYSCALL_INTERRUPTED",
}

// reserved maps the control vocabulary to its type. MESSAGE is not reserved.
var reserved = map[string]Type{}

func init() {
	for t, token := range typeTokens {
		if Type(t) == TypeMessage {
			continue
		}
		reserved[token] = Type(t)
	}
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeTokens) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeTokens[t]
}

// Classify matches content exactly against the reserved tokens.
func Classify(content string) Type {
	if t, ok := reserved[content]; ok {
		return t
	}
	return TypeMessage
}

// ParseType is the inverse of Type.String.
func ParseType(token string) (Type, bool) {
	for t, s := range typeTokens {
		if s == token {
			return Type(t), true
		}
	}
	return TypeEmpty, false
}

// isControl reports the handshake replies that never start an exchange.
func (t Type) isControl() bool {
	return t == TypeCTS || t == TypeHold || t == TypeAck
}

// Options is the send/receive option set.
type Options uint8

const (
	Normal Options = 1 << iota // block without bound
	Timed                      // bound each wait by the RTO
	Nonblocking                // single attempt
	Connectionless             // no handshake, failures swallowed
	IgnoreQueue                // GetNext skips the waiting list
)

var optionNames = []struct {
	o    Options
	name string
}{
	{Normal, "NORMAL"},
	{Timed, "TIMED"},
	{Nonblocking, "NONBLOCKING"},
	{Connectionless, "CONNECTIONLESS"},
	{IgnoreQueue, "IGNORE_QUEUE"},
}

func (o Options) Union(other Options) Options     { return o | other }
func (o Options) Intersect(other Options) Options { return o & other }

// Has reports whether every bit of flag is set.
func (o Options) Has(flag Options) bool {
	return flag != 0 && o&flag == flag
}

func (o Options) String() string {
	if o == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range optionNames {
		if o.Has(n.o) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// deadline turns the wait options into an absolute queue deadline.
// NORMAL wins over TIMED and NONBLOCKING.
func (o Options) deadline(rto time.Duration) time.Time {
	switch {
	case o.Has(Normal):
		return time.Time{}
	case o.Has(Nonblocking):
		return xmq.Poll
	case o.Has(Timed):
		return time.Now().Add(rto)
	default:
		return time.Time{}
	}
}
