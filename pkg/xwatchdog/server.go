// Package xwatchdog supervises units over mailboxes. Units register a slot
// with the server and kick it periodically; a unit that misses BaseTTL
// timeouts in a row is reset or brings the whole system down.
package xwatchdog

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"doorbus/pkg/xactor"
	"doorbus/pkg/xlog"
	"doorbus/pkg/xmbox"
	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type verbHandler func(ctx context.Context, s *Server, unit string, args []string) error

var verbs = make(map[string]verbHandler)

func registerVerb(verb string, h verbHandler) {
	if _, ok := verbs[verb]; ok {
		panic(fmt.Sprintf("watchdog verb[%s] is repeated.", verb))
	}
	verbs[verb] = h
}

func init() {
	registerVerb(VerbRegister, handleRegister)
	registerVerb(VerbUpdate, handleUpdate)
	registerVerb(VerbSync, handleSync)
	for _, verb := range []string{VerbUnregister, VerbStart, VerbStop, VerbKick, VerbTerminate} {
		registerVerb(verb, handleControl(verb))
	}
}

// Server owns the watchdog mailbox and the unit table.
type Server struct {
	conf  Config
	mb    *xmbox.Mailbox
	table *xactor.Actor

	terminate atomic.Bool
	synced    atomic.Bool
}

func NewServer(ctx context.Context, backend xmq.Backend, conf Config, settings xmbox.Settings, hooks Hooks) (*Server, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	mb, err := xmbox.NewMailbox(ctx, backend, ServerName(conf.Name), settings)
	if err != nil {
		return nil, err
	}
	s := &Server{conf: conf, mb: mb}
	table, err := xactor.Spawn(ctx, &unitTable{
		name:   conf.Name + ".units",
		period: conf.Period,
		hooks:  hooks,
		kill:   func() { s.terminate.Store(true) },
		units:  make(map[string]*Unit),
		slots:  make([]bool, conf.Slots),
	})
	if err != nil {
		_ = mb.Close(ctx)
		return nil, err
	}
	s.table = table
	return s, nil
}

func (s *Server) Name() string { return s.mb.Name() }

// TerminationRequested is set by a failed KILL_ALL unit or TerminateAll.
func (s *Server) TerminationRequested() bool { return s.terminate.Load() }

// Serve handles requests until ctx is done or termination is requested.
func (s *Server) Serve(ctx context.Context) error {
	xlog.Get(ctx).Info("Watchdog serving", zap.String("server", s.Name()), zap.Int("slots", s.conf.Slots))
	for ctx.Err() == nil && !s.TerminationRequested() {
		if err := s.ServeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// ServeOnce serves one request, waiting at most one RTO for a sender.
func (s *Server) ServeOnce(ctx context.Context) error {
	_, err := s.serveOne(ctx)
	return err
}

// serveOne returns the verb it dispatched, empty when no request was served.
func (s *Server) serveOne(ctx context.Context) (string, error) {
	msg, err := s.mb.TimedReceive(ctx)
	if err != nil {
		if errors.Is(err, xmbox.ErrTimeout) || errors.Is(err, xmbox.ErrMalformed) {
			return "", nil
		}
		if errors.Is(err, xmq.ErrInterrupted) || errors.Is(err, xmq.ErrClosed) {
			return "", err
		}
		// a unit that vanished mid handshake must not stop the server
		xlog.Get(ctx).Warn("Watchdog receive failed", zap.Error(err))
		return "", nil
	}
	req, err := ParseRequest(msg.Content)
	if err != nil {
		xlog.Get(ctx).Warn("Watchdog bad request", zap.String("unit", msg.Sender), zap.Error(err))
		return "", nil
	}
	h := verbs[req.Verb]
	if h == nil {
		xlog.Get(ctx).Warn("Watchdog unknown verb", zap.String("unit", msg.Sender), zap.String("verb", req.Verb))
		return "", nil
	}
	if err := h(ctx, s, msg.Sender, req.Args); err != nil {
		xlog.Get(ctx).Warn("Watchdog request failed", zap.String("unit", msg.Sender),
			zap.Stringer("req", req), zap.Error(err))
	}
	return req.Verb, nil
}

// Synced reports whether the sync broadcast went out.
func (s *Server) Synced() bool { return s.synced.Load() }

// StartSynchronization runs the sync period before Serve. It waits for the
// first REGISTER without bound, then keeps serving with the RTO set to
// timeout until baseTTL timeouts pass without a REGISTER, and finally sends
// SYNC to every registered unit.
func (s *Server) StartSynchronization(ctx context.Context, timeout time.Duration, baseTTL int) error {
	if baseTTL <= 0 {
		return errors.Wrapf(ErrBadRequest, "sync base_ttl=%d", baseTTL)
	}
	log := xlog.Get(ctx)
	log.Info("Watchdog sync period started", zap.String("server", s.Name()),
		zap.Duration("timeout", timeout), zap.Int("base_ttl", baseTTL))

	for {
		verb, err := s.serveOne(ctx)
		if err != nil {
			return s.syncErr(ctx, err)
		}
		if verb == VerbRegister {
			break
		}
	}

	old, err := s.mb.SetRTO(timeout)
	if err != nil {
		return err
	}
	defer s.mb.SetRTO(old)

	for ttl := baseTTL; ttl > 0; {
		log.Debug("Watchdog sync period", zap.Int("ttl", ttl))
		verb, err := s.serveOne(ctx)
		if err != nil {
			return s.syncErr(ctx, err)
		}
		switch verb {
		case VerbRegister:
			ttl = baseTTL
		case "":
			ttl--
		}
	}
	return s.broadcastSync(ctx)
}

func (s *Server) syncErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return errors.WithMessage(err, "watchdog sync")
}

func (s *Server) broadcastSync(ctx context.Context) error {
	units, err := s.Units(ctx)
	if err != nil {
		return err
	}
	for _, u := range units {
		s.sendSync(ctx, u.Name)
	}
	s.synced.Store(true)
	xlog.Get(ctx).Info("Watchdog sync broadcast sent", zap.Int("units", len(units)))
	return nil
}

// sendSync is best effort, like every broadcast.
func (s *Server) sendSync(ctx context.Context, unit string) {
	_ = s.mb.SendWith(ctx, unit, VerbSync, xmbox.Connectionless.Union(xmbox.Timed))
	xlog.Get(ctx).Debug("Watchdog sync sent", zap.String("unit", unit))
}

// handleSync answers a unit that missed the broadcast. Before the broadcast
// it does nothing: registered units get SYNC with everyone else.
func handleSync(ctx context.Context, s *Server, unit string, args []string) error {
	if s.synced.Load() {
		s.sendSync(ctx, unit)
	}
	return nil
}

func handleRegister(ctx context.Context, s *Server, unit string, args []string) error {
	reply, err := s.register(ctx, unit, args)
	if err != nil {
		reply = ReplyRejected + " " + errors.Cause(err).Error()
	}
	if serr := s.mb.TimedSend(ctx, unit, reply); serr != nil {
		return errors.WithMessagef(serr, "reply %q", reply)
	}
	return err
}

func (s *Server) register(ctx context.Context, unit string, args []string) (string, error) {
	settings, err := parseSlotSettings(args)
	if err != nil {
		return "", err
	}
	if len(args) != 3 {
		return "", errors.Wrapf(ErrBadRequest, "register args %q", args)
	}
	action, err := ParseAction(args[2])
	if err != nil {
		return "", err
	}
	resp, err := s.call(ctx, &registerReq{unit: unit, settings: settings, action: action})
	if err != nil {
		return "", err
	}
	return ReplyRegistered + " " + strconv.Itoa(resp.(*registerResp).slot), nil
}

func handleUpdate(ctx context.Context, s *Server, unit string, args []string) error {
	settings, err := parseSlotSettings(args)
	if err != nil {
		return err
	}
	_, err = s.call(ctx, &controlReq{unit: unit, verb: VerbUpdate, settings: settings})
	return err
}

func handleControl(verb string) verbHandler {
	return func(ctx context.Context, s *Server, unit string, args []string) error {
		_, err := s.call(ctx, &controlReq{unit: unit, verb: verb})
		return err
	}
}

func (s *Server) call(ctx context.Context, req interface{}) (interface{}, error) {
	return s.table.Call(ctx, req)
}

// Units lists the registered units by slot.
func (s *Server) Units(ctx context.Context) ([]Unit, error) {
	resp, err := s.call(ctx, &listReq{})
	if err != nil {
		return nil, err
	}
	return resp.(*listResp).units, nil
}

// TerminateAll drops every unit and sends each a best-effort TERMINATE.
func (s *Server) TerminateAll(ctx context.Context) error {
	s.terminate.Store(true)
	resp, err := s.call(ctx, &drainReq{})
	if err != nil {
		return err
	}
	for _, u := range resp.(*drainResp).units {
		if err := s.mb.SendImmediate(ctx, u.Name, VerbTerminate); err != nil {
			xlog.Get(ctx).Warn("Watchdog terminate broadcast failed", zap.String("unit", u.Name), zap.Error(err))
			continue
		}
		xlog.Get(ctx).Info("Watchdog terminate broadcast sent", zap.String("unit", u.Name))
	}
	return nil
}

func (s *Server) Close(ctx context.Context) error {
	s.table.Stop(ctx)
	return s.mb.Close(ctx)
}
