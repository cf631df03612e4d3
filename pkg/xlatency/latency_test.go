package xlatency_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"doorbus/pkg/xlatency"
	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
)

var attr = xmq.Attr{MaxMsg: 8, MsgSize: 32}

func wrap(t *testing.T, conf xlatency.Config) (*xlatency.Backend, xmq.Queue) {
	t.Helper()
	ctx := context.Background()
	b, err := xlatency.Wrap(ctx, xmq.NewMemoryBackend(t.Name()), conf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close(ctx) })
	reader, err := b.Open(ctx, "/door", xmq.ModeRead, attr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reader.Close() })
	return b, reader
}

func TestLossMatched(t *testing.T) {
	ctx := context.Background()
	b, reader := wrap(t, xlatency.Config{
		Loss:  100,
		Match: func(queue string, msg []byte) bool { return bytes.HasSuffix(msg, []byte("|ACK")) },
	})
	w, err := b.Open(ctx, "/door", xmq.ModeWrite, attr)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for _, msg := range []string{"keypad|ACK", "keypad|1234"} {
		if err := w.Send(ctx, []byte(msg), xmq.Poll); err != nil {
			t.Fatal(err)
		}
	}
	got, err := reader.Receive(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "keypad|1234" {
		t.Fatalf("got %q", got)
	}
	if _, err := reader.Receive(ctx, time.Now().Add(50*time.Millisecond)); !errors.Is(err, xmq.ErrTimeout) {
		t.Fatalf("second receive err = %v", err)
	}

	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Packets != 2 || stats.Lost != 1 {
		t.Fatalf("stats %+v", stats)
	}
}

func TestLatencyOutlivesClose(t *testing.T) {
	ctx := context.Background()
	b, reader := wrap(t, xlatency.Config{Latency: 50 * time.Millisecond, Seed: 7})
	w, err := b.Open(ctx, "/door", xmq.ModeWrite, attr)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Send(ctx, []byte("nfc|04A1"), xmq.Poll); err != nil {
		t.Fatal(err)
	}
	// the writer goes away before the delayed message is due
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := reader.Receive(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "nfc|04A1" {
		t.Fatalf("got %q", got)
	}
	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Lost != 0 || stats.AllDelay >= 50*time.Millisecond {
		t.Fatalf("stats %+v", stats)
	}
}

func TestSendChecks(t *testing.T) {
	ctx := context.Background()
	b, _ := wrap(t, xlatency.Config{})
	w, err := b.Open(ctx, "/door", xmq.ModeWrite, attr)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Send(ctx, make([]byte, 33), xmq.Poll); !errors.Is(err, xmq.ErrTooLong) {
		t.Fatalf("oversized send err = %v", err)
	}
	b.Close(ctx)
	if err := w.Send(ctx, []byte("a|b"), xmq.Poll); !errors.Is(err, xmq.ErrClosed) {
		t.Fatalf("send after stop err = %v", err)
	}
	_ = w.Close()
}

func TestConfigValidate(t *testing.T) {
	if err := (xlatency.Config{Loss: 101}).Validate(); !errors.Is(err, xlatency.ErrInvalidConfig) {
		t.Fatalf("loss 101 err = %v", err)
	}
	if (xlatency.Config{}).Enabled() {
		t.Fatal("zero config enabled")
	}
	if _, err := xlatency.Wrap(context.Background(), xmq.NewMemoryBackend(t.Name()), xlatency.Config{Latency: -1}); err == nil {
		t.Fatal("negative latency accepted")
	}
}
