package xwatchdog_test

import (
	"context"
	"testing"
	"time"

	"doorbus/pkg/xmbox"
	"doorbus/pkg/xmq"
	"doorbus/pkg/xwatchdog"

	"github.com/pkg/errors"
)

func mailboxSettings() xmbox.Settings {
	s := xmbox.DefaultSettings()
	s.RTO = 300 * time.Millisecond
	return s
}

type harness struct {
	backend *xmq.MemoryBackend
	server  *xwatchdog.Server
	conf    xwatchdog.Config
	resets  chan xwatchdog.Unit
	kills   chan xwatchdog.Unit
}

func newServer(t *testing.T, conf xwatchdog.Config) *harness {
	t.Helper()
	h := &harness{
		backend: xmq.NewMemoryBackend(t.Name()),
		conf:    conf,
		resets:  make(chan xwatchdog.Unit, 4),
		kills:   make(chan xwatchdog.Unit, 4),
	}
	server, err := xwatchdog.NewServer(context.Background(), h.backend, h.conf, mailboxSettings(), xwatchdog.Hooks{
		OnReset:   func(ctx context.Context, u xwatchdog.Unit) { h.resets <- u },
		OnKillAll: func(ctx context.Context, u xwatchdog.Unit) { h.kills <- u },
	})
	if err != nil {
		t.Fatal(err)
	}
	h.server = server
	t.Cleanup(func() { _ = server.Close(context.Background()) })
	return h
}

// run starts fn on its own goroutine and waits for it on cleanup.
func (h *harness) run(t *testing.T, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
}

func newHarness(t *testing.T, name string) *harness {
	t.Helper()
	h := newServer(t, xwatchdog.Config{Name: name, Slots: 2, Period: 10 * time.Millisecond})
	h.run(t, h.server.Serve)
	return h
}

func (h *harness) client(t *testing.T, unit string, timeout time.Duration, ttl int, action xwatchdog.Action) *xwatchdog.Client {
	t.Helper()
	c, err := xwatchdog.NewClient(context.Background(), h.backend, unit, h.conf.Name,
		xwatchdog.SlotSettings{Timeout: timeout, BaseTTL: ttl}, action, mailboxSettings())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestRegisterAndReject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "wd1")
	keypad := h.client(t, "keypad", time.Second, 3, xwatchdog.ResetOnly)
	reader := h.client(t, "reader", time.Second, 3, xwatchdog.KillAll)
	db := h.client(t, "db", time.Second, 3, xwatchdog.ResetOnly)

	slot, err := keypad.Register(ctx)
	if err != nil || slot != 0 || keypad.Slot() != 0 {
		t.Fatalf("register keypad: %d %v", slot, err)
	}
	if _, err := keypad.Register(ctx); !errors.Is(err, xwatchdog.ErrRejected) {
		t.Fatalf("duplicate register err = %v", err)
	}
	if slot, err := reader.Register(ctx); err != nil || slot != 1 {
		t.Fatalf("register reader: %d %v", slot, err)
	}
	if _, err := db.Register(ctx); !errors.Is(err, xwatchdog.ErrRejected) {
		t.Fatalf("register past capacity err = %v", err)
	}

	units, err := h.server.Units(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 || units[0].Name != "keypad" || units[1].Name != "reader" || units[1].Action != xwatchdog.KillAll {
		t.Fatalf("units %+v", units)
	}

	if err := keypad.Unregister(ctx); err != nil {
		t.Fatal(err)
	}
	if slot, err := db.Register(ctx); err != nil || slot != 0 {
		t.Fatalf("register into freed slot: %d %v", slot, err)
	}
}

func TestExpiryResetsUnit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "wd2")
	c := h.client(t, "keypad", 30*time.Millisecond, 2, xwatchdog.ResetOnly)

	if _, err := c.Register(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case u := <-h.resets:
		if u.Name != "keypad" || u.TTL != 0 {
			t.Fatalf("reset unit %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unit never expired")
	}
	units, err := h.server.Units(ctx)
	if err != nil || len(units) != 0 {
		t.Fatalf("units after reset %+v %v", units, err)
	}
	if h.server.TerminationRequested() {
		t.Fatal("reset only unit requested termination")
	}
}

func TestKickKeepsUnitAlive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "wd3")
	c := h.client(t, "reader", 200*time.Millisecond, 2, xwatchdog.ResetOnly)

	if _, err := c.Register(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		if err := c.Kick(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case u := <-h.resets:
		t.Fatalf("kicked unit reset: %+v", u)
	case <-time.After(300 * time.Millisecond):
	}
	units, err := h.server.Units(ctx)
	if err != nil || len(units) != 1 || units[0].Running || units[0].TTL != 2 {
		t.Fatalf("units %+v %v", units, err)
	}

	if err := c.UpdateSettings(ctx, xwatchdog.SlotSettings{Timeout: time.Second, BaseTTL: 4}); err != nil {
		t.Fatal(err)
	}
	units, err = h.server.Units(ctx)
	if err != nil || units[0].Settings.BaseTTL != 4 || units[0].Settings.Timeout != time.Second {
		t.Fatalf("updated units %+v %v", units, err)
	}
}

func TestKillAllAndTerminate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "wd4")
	reader := h.client(t, "reader", time.Second, 1, xwatchdog.KillAll)
	keypad := h.client(t, "keypad", time.Second, 1, xwatchdog.ResetOnly)

	for _, c := range []*xwatchdog.Client{reader, keypad} {
		if _, err := c.Register(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := reader.Terminate(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case u := <-h.kills:
		if u.Name != "reader" {
			t.Fatalf("kill unit %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("kill all hook not called")
	}
	if !h.server.TerminationRequested() {
		t.Fatal("termination not requested")
	}

	if err := h.server.TerminateAll(ctx); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*xwatchdog.Client{reader, keypad} {
		if !c.Terminated(ctx) {
			t.Fatalf("%s missed terminate broadcast", c.Name())
		}
	}
	units, err := h.server.Units(ctx)
	if err != nil || len(units) != 0 {
		t.Fatalf("units after terminate all %+v %v", units, err)
	}
}

func TestSynchronization(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := newServer(t, xwatchdog.Config{Name: "wd5", Slots: 3, Period: 10 * time.Millisecond})
	h.run(t, func(ctx context.Context) error {
		if err := h.server.StartSynchronization(ctx, 100*time.Millisecond, 3); err != nil {
			return err
		}
		return h.server.Serve(ctx)
	})
	keypad := h.client(t, "keypad", time.Second, 3, xwatchdog.ResetOnly)
	reader := h.client(t, "reader", time.Second, 3, xwatchdog.KillAll)

	for _, c := range []*xwatchdog.Client{keypad, reader} {
		if _, err := c.Register(ctx); err != nil {
			t.Fatalf("register %s: %v", c.Name(), err)
		}
	}
	for _, c := range []*xwatchdog.Client{keypad, reader} {
		if err := c.Sync(ctx); err != nil {
			t.Fatalf("%s missed sync broadcast: %v", c.Name(), err)
		}
	}
	if !h.server.Synced() {
		t.Fatal("server not synced after broadcast")
	}

	// a unit that registers after the broadcast asks for it
	db := h.client(t, "db", time.Second, 3, xwatchdog.ResetOnly)
	if _, err := db.Register(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}
	units, err := h.server.Units(ctx)
	if err != nil || len(units) != 3 {
		t.Fatalf("units %+v %v", units, err)
	}
}

func TestSynchronizationCancelled(t *testing.T) {
	h := newServer(t, xwatchdog.Config{Name: "wd6", Slots: 1, Period: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	// no unit ever registers
	if err := h.server.StartSynchronization(ctx, 50*time.Millisecond, 2); err != nil {
		t.Fatalf("cancelled sync err = %v", err)
	}
	if h.server.Synced() {
		t.Fatal("synced without a registration")
	}
	if err := h.server.StartSynchronization(context.Background(), time.Second, 0); !errors.Is(err, xwatchdog.ErrBadRequest) {
		t.Fatalf("zero ttl err = %v", err)
	}
}

func TestParseRequest(t *testing.T) {
	req, err := xwatchdog.ParseRequest("REGISTER 500 3 KILL_ALL")
	if err != nil || req.Verb != xwatchdog.VerbRegister || len(req.Args) != 3 || req.String() != "REGISTER 500 3 KILL_ALL" {
		t.Fatalf("parse %+v %v", req, err)
	}
	if _, err := xwatchdog.ParseRequest("   "); !errors.Is(err, xwatchdog.ErrBadRequest) {
		t.Fatalf("empty request err = %v", err)
	}
	if _, err := xwatchdog.ParseAction("REBOOT"); !errors.Is(err, xwatchdog.ErrBadRequest) {
		t.Fatalf("bad action err = %v", err)
	}
	if a, err := xwatchdog.ParseAction(xwatchdog.KillAll.String()); err != nil || a != xwatchdog.KillAll {
		t.Fatalf("action round trip %v %v", a, err)
	}
	if err := (xwatchdog.SlotSettings{Timeout: 0, BaseTTL: 1}).Validate(); !errors.Is(err, xwatchdog.ErrBadRequest) {
		t.Fatalf("zero timeout err = %v", err)
	}
}
