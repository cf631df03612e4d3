package xwatchdog

import (
	"context"
	"sort"
	"time"

	"doorbus/pkg/xactor"
	"doorbus/pkg/xlog"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Unit is a snapshot of one registered unit.
type Unit struct {
	Name     string
	Slot     int
	Settings SlotSettings
	Action   Action
	TTL      int
	Running  bool
	deadline time.Time
}

// Hooks run on the unit table goroutine and must not call back into the server.
type Hooks struct {
	OnReset   func(ctx context.Context, unit Unit)
	OnKillAll func(ctx context.Context, unit Unit)
}

// unitTable is the actor state behind a server.
type unitTable struct {
	name   string
	period time.Duration
	hooks  Hooks
	kill   func()

	units map[string]*Unit
	slots []bool
}

type (
	registerReq struct {
		unit     string
		settings SlotSettings
		action   Action
	}
	registerResp struct{ slot int }

	controlReq struct {
		unit     string
		verb     string
		settings SlotSettings // UPDATE only
	}
	controlResp struct{}

	listReq  struct{}
	listResp struct{ units []Unit }

	drainReq  struct{}
	drainResp struct{ units []Unit }
)

func (t *unitTable) Handlers() xactor.Handlers {
	return xactor.Handlers{
		Calls: []xactor.CallRoute{
			xactor.OnCall(t.register),
			xactor.OnCall(t.control),
			xactor.OnCall(t.list),
			xactor.OnCall(t.drain),
		},
		Ticks:        []xactor.TickHandler{t.expire},
		TickInterval: t.period,
	}
}

func (t *unitTable) Name() string { return t.name }

func (t *unitTable) Close(ctx context.Context) {
	xlog.Get(ctx).Debug("Watchdog unit table closed", zap.Int("units", len(t.units)))
}

func (t *unitTable) register(ctx context.Context, req *registerReq) (*registerResp, error) {
	if _, ok := t.units[req.unit]; ok {
		return nil, errors.Wrapf(ErrDuplicate, "%s", req.unit)
	}
	slot := -1
	for i, taken := range t.slots {
		if !taken {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, errors.Wrapf(ErrNoSlot, "%d slots taken", len(t.slots))
	}
	t.slots[slot] = true
	t.units[req.unit] = &Unit{
		Name:     req.unit,
		Slot:     slot,
		Settings: req.settings,
		Action:   req.action,
		TTL:      req.settings.BaseTTL,
	}
	xlog.Get(ctx).Info("Watchdog unit registered", zap.String("unit", req.unit), zap.Int("slot", slot),
		zap.Duration("timeout", req.settings.Timeout), zap.Int("base_ttl", req.settings.BaseTTL),
		zap.Stringer("action", req.action))
	return &registerResp{slot: slot}, nil
}

func (t *unitTable) control(ctx context.Context, req *controlReq) (*controlResp, error) {
	u, ok := t.units[req.unit]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s %s", req.verb, req.unit)
	}
	now := time.Now()
	switch req.verb {
	case VerbUnregister:
		t.remove(u)
	case VerbStart:
		u.Running = true
		u.TTL = u.Settings.BaseTTL
		u.deadline = now.Add(u.Settings.Timeout)
	case VerbStop:
		u.Running = false
	case VerbKick:
		u.TTL = u.Settings.BaseTTL
		u.deadline = now.Add(u.Settings.Timeout)
	case VerbUpdate:
		u.Settings = req.settings
		u.TTL = u.Settings.BaseTTL
		u.deadline = now.Add(u.Settings.Timeout)
	case VerbTerminate:
		t.fail(ctx, u)
	default:
		return nil, errors.Wrapf(ErrBadRequest, "verb %q", req.verb)
	}
	return &controlResp{}, nil
}

func (t *unitTable) list(ctx context.Context, req *listReq) (*listResp, error) {
	return &listResp{units: t.snapshot()}, nil
}

// drain removes every unit, used when terminating all of them.
func (t *unitTable) drain(ctx context.Context, req *drainReq) (*drainResp, error) {
	units := t.snapshot()
	for _, u := range t.units {
		t.remove(u)
	}
	return &drainResp{units: units}, nil
}

func (t *unitTable) snapshot() []Unit {
	units := make([]Unit, 0, len(t.units))
	for _, u := range t.units {
		units = append(units, *u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Slot < units[j].Slot })
	return units
}

func (t *unitTable) remove(u *Unit) {
	t.slots[u.Slot] = false
	delete(t.units, u.Name)
}

// expire spends one TTL per missed timeout of every running unit.
func (t *unitTable) expire(ctx context.Context) {
	now := time.Now()
	for _, u := range t.units {
		if !u.Running || now.Before(u.deadline) {
			continue
		}
		u.TTL--
		xlog.Get(ctx).Warn("Watchdog unit timer expired", zap.String("unit", u.Name), zap.Int("ttl", u.TTL))
		if u.TTL <= 0 {
			t.fail(ctx, u)
			continue
		}
		u.deadline = now.Add(u.Settings.Timeout)
	}
}

func (t *unitTable) fail(ctx context.Context, u *Unit) {
	switch u.Action {
	case ResetOnly:
		t.remove(u)
		xlog.Get(ctx).Warn("Watchdog unit reset", zap.String("unit", u.Name), zap.Int("slot", u.Slot))
		if t.hooks.OnReset != nil {
			t.hooks.OnReset(ctx, *u)
		}
	case KillAll:
		u.Running = false
		t.kill()
		xlog.Get(ctx).Error("Watchdog unit failed, terminating all", zap.String("unit", u.Name))
		if t.hooks.OnKillAll != nil {
			t.hooks.OnKillAll(ctx, *u)
		}
	}
}
