// Package xactor runs a piece of state on its own goroutine. Requests are
// serialized through a channel so the state needs no locking.
package xactor

import (
	"context"
	"reflect"
	"sync"
	"time"

	"doorbus/pkg/xcommon"
	"doorbus/pkg/xlog"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Actor struct {
	state  State
	router *router
	mails  chan *mail

	wg        xcommon.WaitGroup
	closeOnce sync.Once
	closeCh   chan struct{}
}

// Spawn registers state under its name and starts its goroutine.
func Spawn(ctx context.Context, state State) (*Actor, error) {
	r, err := newRouter(state.Handlers())
	if err != nil {
		return nil, err
	}
	actor := &Actor{
		state:   state,
		router:  r,
		mails:   make(chan *mail, mailboxCapacity),
		closeCh: make(chan struct{}),
	}
	if err := register(actor); err != nil {
		return nil, err
	}
	ctx = xlog.NewContext(ctx, zap.String("actor", state.Name()))
	actor.wg.Go(ctx, actor.loop)
	return actor, nil
}

func (actor *Actor) Name() string { return actor.state.Name() }

func (actor *Actor) loop(ctx context.Context) {
	ticker := time.NewTicker(actor.router.tickInterval)
	defer ticker.Stop()
	defer actor.state.Close(ctx)

	for {
		select {
		case m := <-actor.mails:
			actor.dispatch(ctx, m)
		case <-ticker.C:
			actor.router.tick(ctx)
		case <-actor.closeCh:
			return
		}
	}
}

func (actor *Actor) dispatch(ctx context.Context, m *mail) {
	t := reflect.TypeOf(m.req)
	switch m.kind {
	case callMail:
		h := actor.router.calls[t]
		if h == nil {
			m.resultCh <- &result{err: errors.Wrapf(ErrNoHandler, "%v", t)}
			return
		}
		resp, err := h(m.ctx, m.req)
		m.resultCh <- &result{resp: resp, err: err}
	case castMail:
		h := actor.router.casts[t]
		if h == nil {
			xlog.Get(ctx).Warn("Cast handler is nil", zap.Stringer("req", t))
			return
		}
		h(m.ctx, m.req)
	default:
		xlog.Get(ctx).Warn("Mail kind invalid", zap.Int("kind", int(m.kind)))
	}
}

func (actor *Actor) post(ctx context.Context, m *mail) error {
	select {
	case <-actor.closeCh:
		return errors.Wrapf(ErrActorStopped, "%s", actor.Name())
	default:
	}
	select {
	case actor.mails <- m:
		return nil
	case <-actor.closeCh:
		return errors.Wrapf(ErrActorStopped, "%s", actor.Name())
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "post to %s", actor.Name())
	}
}

// Call sends req and waits for the handler's result.
func (actor *Actor) Call(ctx context.Context, req interface{}) (interface{}, error) {
	m := newMail(ctx, callMail, req)
	if err := actor.post(ctx, m); err != nil {
		return nil, err
	}
	select {
	case r := <-m.resultCh:
		return r.resp, r.err
	case <-actor.closeCh:
		return nil, errors.Wrapf(ErrActorStopped, "%s", actor.Name())
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "call %s", actor.Name())
	}
}

// Cast queues req without waiting for it to be handled.
func (actor *Actor) Cast(ctx context.Context, req interface{}) error {
	return actor.post(ctx, newMail(ctx, castMail, req))
}

// Call looks up the named actor and returns the typed response.
func Call[Req any, Resp any](ctx context.Context, name string, req *Req) (*Resp, error) {
	actor, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	out, err := actor.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := out.(*Resp)
	if !ok {
		return nil, errors.Errorf("result %T is not %v", out, reflect.TypeOf(new(Resp)))
	}
	return resp, nil
}

func Cast(ctx context.Context, name string, req interface{}) error {
	actor, err := Lookup(name)
	if err != nil {
		return err
	}
	return actor.Cast(ctx, req)
}

// Stop ends the goroutine, runs State.Close and unregisters the name.
func (actor *Actor) Stop(ctx context.Context) {
	actor.closeOnce.Do(func() {
		close(actor.closeCh)
		actor.wg.Wait()
		unregister(actor)
	})
}
