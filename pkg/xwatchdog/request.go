package xwatchdog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Request verbs, sent by units as MESSAGE content "<VERB> [args]".
const (
	VerbRegister   = "REGISTER"   // REGISTER <timeout_ms> <base_ttl> <action>
	VerbUnregister = "UNREGISTER"
	VerbStart      = "START"
	VerbStop       = "STOP"
	VerbKick       = "KICK"
	VerbUpdate     = "UPDATE"    // UPDATE <timeout_ms> <base_ttl>
	VerbTerminate  = "TERMINATE" // also broadcast by the server
	VerbSync       = "SYNC"      // broadcast when the sync period ends, or asked for by a late unit

	ReplyRegistered = "REGISTERED" // REGISTERED <slot>
	ReplyRejected   = "REJECTED"   // REJECTED <reason>
)

var (
	ErrBadRequest = errors.New("bad watchdog request")
	ErrRejected   = errors.New("watchdog rejected request")
	ErrNoSlot     = errors.New("no free watchdog slot")
	ErrDuplicate  = errors.New("unit already registered")
	ErrNotFound   = errors.New("unit not registered")
)

// Action is what the server does when a unit runs out of TTL.
type Action int

const (
	ResetOnly Action = iota // drop the unit and report it
	KillAll                 // request termination of everything
)

func (a Action) String() string {
	switch a {
	case ResetOnly:
		return "RESET_ONLY"
	case KillAll:
		return "KILL_ALL"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

func ParseAction(s string) (Action, error) {
	switch s {
	case "RESET_ONLY":
		return ResetOnly, nil
	case "KILL_ALL":
		return KillAll, nil
	default:
		return 0, errors.Wrapf(ErrBadRequest, "action %q", s)
	}
}

// SlotSettings is the liveness contract of one unit: it must kick at least
// once per Timeout, and is failed after BaseTTL missed timeouts in a row.
type SlotSettings struct {
	Timeout time.Duration
	BaseTTL int
}

func (s SlotSettings) Validate() error {
	if s.Timeout < time.Millisecond || s.BaseTTL <= 0 {
		return errors.Wrapf(ErrBadRequest, "timeout=%v base_ttl=%d", s.Timeout, s.BaseTTL)
	}
	return nil
}

func (s SlotSettings) args() []string {
	return []string{strconv.FormatInt(s.Timeout.Milliseconds(), 10), strconv.Itoa(s.BaseTTL)}
}

func parseSlotSettings(args []string) (SlotSettings, error) {
	if len(args) < 2 {
		return SlotSettings{}, errors.Wrapf(ErrBadRequest, "settings %q", args)
	}
	ms, err := strconv.Atoi(args[0])
	if err != nil {
		return SlotSettings{}, errors.Wrapf(ErrBadRequest, "timeout %q", args[0])
	}
	ttl, err := strconv.Atoi(args[1])
	if err != nil {
		return SlotSettings{}, errors.Wrapf(ErrBadRequest, "base ttl %q", args[1])
	}
	s := SlotSettings{Timeout: time.Duration(ms) * time.Millisecond, BaseTTL: ttl}
	return s, s.Validate()
}

// Request is one parsed unit request.
type Request struct {
	Verb string
	Args []string
}

func ParseRequest(content string) (Request, error) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return Request{}, errors.Wrap(ErrBadRequest, "empty request")
	}
	return Request{Verb: fields[0], Args: fields[1:]}, nil
}

func (r Request) String() string {
	return strings.Join(append([]string{r.Verb}, r.Args...), " ")
}
