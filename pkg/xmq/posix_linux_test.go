//go:build linux

package xmq_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
)

func openPosix(t *testing.T, name string, mode xmq.Mode) xmq.Queue {
	t.Helper()
	if _, err := os.Stat("/dev/mqueue"); err != nil {
		t.Skipf("mqueue filesystem unavailable: %v", err)
	}
	q, err := xmq.Posix.Open(context.Background(), name, mode, xmq.Attr{MaxMsg: 4, MsgSize: 64})
	if err != nil {
		t.Skipf("mq_open unavailable: %v", err)
	}
	return q
}

func TestPosixRoundTrip(t *testing.T) {
	ctx := context.Background()
	name := fmt.Sprintf("/doorbus_test_%d", os.Getpid())
	q := openPosix(t, name, xmq.ModeReadWrite)
	defer xmq.Posix.Unlink(name)
	defer q.Close()

	if err := q.Send(ctx, []byte("keypad|1234"), time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	msg, err := q.Receive(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(msg) != "keypad|1234" {
		t.Fatalf("got %q", msg)
	}

	// NUL padding from C writers is trimmed
	if err := q.Send(ctx, []byte("x|y\x00\x00junk"), xmq.Poll); err != nil {
		t.Fatal(err)
	}
	msg, err = q.Receive(ctx, xmq.Poll)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg) != "x|y" {
		t.Fatalf("got %q", msg)
	}

	start := time.Now()
	if _, err := q.Receive(ctx, time.Now().Add(250*time.Millisecond)); !errors.Is(err, xmq.ErrTimeout) {
		t.Fatalf("empty receive err = %v", err)
	}
	if time.Since(start) < 200*time.Millisecond {
		t.Fatal("receive returned before deadline")
	}

	old, err := q.SetAttr(xmq.Attr{Flags: xmq.FlagNonblock})
	if err != nil {
		t.Fatal(err)
	}
	if old.MsgSize != 64 || old.MaxMsg != 4 {
		t.Fatalf("old attr %+v", old)
	}
	if _, err := q.Receive(ctx, time.Time{}); !errors.Is(err, xmq.ErrEmpty) {
		t.Fatalf("nonblocking receive err = %v", err)
	}
	if err := q.Send(ctx, make([]byte, 65), xmq.Poll); !errors.Is(err, xmq.ErrTooLong) {
		t.Fatalf("oversized send err = %v", err)
	}
}

func TestPosixInterrupt(t *testing.T) {
	name := fmt.Sprintf("/doorbus_intr_%d", os.Getpid())
	q := openPosix(t, name, xmq.ModeRead)
	defer xmq.Posix.Unlink(name)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := q.Receive(ctx, time.Time{}); !errors.Is(err, xmq.ErrInterrupted) {
		t.Fatalf("cancelled receive err = %v", err)
	}
}

func TestPosixCloseDuringReceive(t *testing.T) {
	name := fmt.Sprintf("/doorbus_close_%d", os.Getpid())
	q := openPosix(t, name, xmq.ModeRead)
	defer xmq.Posix.Unlink(name)

	done := make(chan error, 1)
	go func() {
		_, err := q.Receive(context.Background(), time.Time{})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, xmq.ErrClosed) {
			t.Fatalf("receive after close err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("receive kept running after close")
	}
	if _, err := q.Attr(); !errors.Is(err, xmq.ErrClosed) {
		t.Fatalf("attr after close err = %v", err)
	}
}
