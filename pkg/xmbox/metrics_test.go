package xmbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"doorbus/pkg/xmq"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	b := xmq.NewMemoryBackend(t.Name())
	s := DefaultSettings()
	s.RTO = 50 * time.Millisecond

	server, err := NewMailbox(ctx, b, "metrics.server", s)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close(ctx)
	client, err := NewMailbox(ctx, b, "metrics.client", s)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close(ctx)

	if err := client.SendImmediate(ctx, "metrics.server", "line"); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(messagesSent.WithLabelValues("metrics.client", "MESSAGE")); got != 1 {
		t.Fatalf("sent = %v", got)
	}
	// a stray message while waiting for RTS is held and queued
	if _, err := server.GetNext(ctx, Timed); err == nil {
		t.Fatal("get next without RTS succeeded")
	}
	if got := testutil.ToFloat64(holdsSent.WithLabelValues("metrics.server")); got != 1 {
		t.Fatalf("holds = %v", got)
	}
	if got := testutil.ToFloat64(waitingList.WithLabelValues("metrics.server")); got != 1 {
		t.Fatalf("waiting = %v", got)
	}
	if got := testutil.ToFloat64(timeouts.WithLabelValues("metrics.server", "rts")); got != 1 {
		t.Fatalf("timeouts = %v", got)
	}

	path := filepath.Join(t.TempDir(), "doorbus.prom")
	if err := WriteMetrics(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "doorbus_mailbox_holds_total") {
		t.Fatalf("textfile missing counters:\n%s", data)
	}
}

func TestOptionsDeadline(t *testing.T) {
	rto := time.Second
	if d := Normal.Union(Timed).deadline(rto); !d.IsZero() {
		t.Fatalf("normal must win over timed: %v", d)
	}
	if d := Normal.Union(Nonblocking).deadline(rto); !d.IsZero() {
		t.Fatalf("normal must win over nonblocking: %v", d)
	}
	if d := Nonblocking.Union(Timed).deadline(rto); !d.Equal(xmq.Poll) {
		t.Fatalf("nonblocking deadline %v", d)
	}
	d := Timed.deadline(rto)
	if until := time.Until(d); until <= 0 || until > rto {
		t.Fatalf("timed deadline in %v", until)
	}
	if d := Connectionless.deadline(rto); !d.IsZero() {
		t.Fatalf("no wait flag deadline %v", d)
	}
}
