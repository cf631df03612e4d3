package xactor

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	callMail mailKind = 0 // caller waits for the result
	castMail mailKind = 1 // fire and forget
)

var (
	defaultTickInterval = 1 * time.Minute
	mailboxCapacity     = 100
)

var (
	ErrActorExists   = errors.New("actor already running")
	ErrActorNotFound = errors.New("actor not found")
	ErrActorStopped  = errors.New("actor stopped")
	ErrNoHandler     = errors.New("no handler for request type")
)

type mailKind int

// State is the data an actor owns. Only the actor goroutine touches it.
type State interface {
	Handlers() Handlers        // registered once at Spawn
	Name() string              // unique among running actors
	Close(ctx context.Context) // called on the actor goroutine when it stops
}
