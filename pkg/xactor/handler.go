package xactor

import (
	"context"
	"reflect"
	"time"

	"doorbus/pkg/xlog"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type (
	CallHandler func(ctx context.Context, req interface{}) (interface{}, error)
	CastHandler func(ctx context.Context, req interface{})
	TickHandler func(ctx context.Context)
)

type CallRoute struct {
	H CallHandler
	T reflect.Type
}

type CastRoute struct {
	H CastHandler
	T reflect.Type
}

// Handlers routes requests by their pointer type.
type Handlers struct {
	Calls        []CallRoute
	Casts        []CastRoute
	Ticks        []TickHandler
	TickInterval time.Duration // default 1 minute
}

// OnCall routes *Req to fn.
func OnCall[Req any, Resp any](fn func(ctx context.Context, r *Req) (*Resp, error)) CallRoute {
	return CallRoute{func(ctx context.Context, req interface{}) (interface{}, error) {
		r, ok := req.(*Req)
		if !ok {
			return nil, errors.Errorf("call req %T is not %v", req, reflect.TypeOf(new(Req)))
		}
		return fn(ctx, r)
	}, reflect.TypeOf(new(Req))}
}

// OnCast routes *Req to fn.
func OnCast[Req any](fn func(ctx context.Context, r *Req)) CastRoute {
	return CastRoute{func(ctx context.Context, req interface{}) {
		r, ok := req.(*Req)
		if !ok {
			xlog.Get(ctx).Warn("Cast req type mismatch", zap.String("req", reflect.TypeOf(req).String()))
			return
		}
		fn(ctx, r)
	}, reflect.TypeOf(new(Req))}
}

type router struct {
	calls        map[reflect.Type]CallHandler
	casts        map[reflect.Type]CastHandler
	ticks        []TickHandler
	tickInterval time.Duration
}

func newRouter(h Handlers) (*router, error) {
	r := &router{
		calls:        make(map[reflect.Type]CallHandler),
		casts:        make(map[reflect.Type]CastHandler),
		ticks:        append([]TickHandler(nil), h.Ticks...),
		tickInterval: h.TickInterval,
	}
	if r.tickInterval <= 0 {
		r.tickInterval = defaultTickInterval
	}
	for _, c := range h.Calls {
		if r.calls[c.T] != nil {
			return nil, errors.Errorf("call route %v is repeated", c.T)
		}
		r.calls[c.T] = c.H
	}
	for _, c := range h.Casts {
		if r.casts[c.T] != nil {
			return nil, errors.Errorf("cast route %v is repeated", c.T)
		}
		r.casts[c.T] = c.H
	}
	return r, nil
}

func (r *router) tick(ctx context.Context) {
	for _, fn := range r.ticks {
		fn(ctx)
	}
}
