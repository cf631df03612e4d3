package xlogbridge_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"doorbus/pkg/xlog"
	"doorbus/pkg/xlogbridge"
	"doorbus/pkg/xmbox"
	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type memorySink struct {
	mu    sync.Mutex
	lines []string
}

func (s *memorySink) Log(ctx context.Context, line string) xlogbridge.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return s
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func settings() xmbox.Settings {
	s := xmbox.DefaultSettings()
	s.RTO = 50 * time.Millisecond
	return s
}

func newBridge(t *testing.T, sink xlogbridge.Sink) (*xlogbridge.Server, *xlogbridge.Client) {
	t.Helper()
	ctx := context.Background()
	b := xmq.NewMemoryBackend(t.Name())
	server, err := xlogbridge.NewServer(ctx, b, "L1", settings(), sink)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = server.Close(ctx) })
	client, err := xlogbridge.NewClient(ctx, b, "L1", settings())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close(ctx) })
	return server, client
}

func TestBridgeForwardsLines(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}
	server, client := newBridge(t, sink)
	if server.Name() != "L1.server" || client.Name() != "L1.client" {
		t.Fatalf("names %s %s", server.Name(), client.Name())
	}

	client.Log(ctx, "hello").Log(ctx, "door opened\n")
	for i := 0; i < 2; i++ {
		ok, err := server.ServeOnce(ctx)
		if err != nil || !ok {
			t.Fatalf("serve once %d: %v %v", i, ok, err)
		}
	}
	ok, err := server.ServeOnce(ctx)
	if err != nil || ok {
		t.Fatalf("serve on empty queue: %v %v", ok, err)
	}

	want := []string{"TL: L1.client : hello", "TL: L1.client : door opened"}
	got := sink.snapshot()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("lines %q, want %q", got, want)
	}
}

func TestBridgeAsZapSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &memorySink{}
	server, client := newBridge(t, sink)

	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	logger := xlog.New(client, zapcore.InfoLevel, true)
	logger.Info("badge accepted", zap.String("badge", strings.Repeat("A", 400)))

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}

	lines := sink.snapshot()
	if len(lines) != 1 {
		t.Fatalf("lines %q", lines)
	}
	if !strings.HasPrefix(lines[0], "TL: L1.client : {") {
		t.Fatalf("line %q", lines[0])
	}
	// truncated to what one queue message carries
	if max := xmbox.DefaultSettings().MaxMsgSize; len(lines[0]) > max+len("TL:  : ") {
		t.Fatalf("line of %d bytes was not truncated", len(lines[0]))
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}
	server, client := newBridge(t, sink)

	max := xmbox.DefaultSettings().MaxMsgSize - len(client.Name()) - len(xmbox.Delimiter)
	client.Log(ctx, "a"+strings.Repeat("é", max))
	if ok, err := server.ServeOnce(ctx); err != nil || !ok {
		t.Fatalf("serve once: %v %v", ok, err)
	}
	lines := sink.snapshot()
	if len(lines) != 1 {
		t.Fatalf("lines %q", lines)
	}
	content := strings.TrimPrefix(lines[0], "TL: L1.client : ")
	if !utf8.ValidString(content) {
		t.Fatalf("content split a rune: %q", content)
	}
	if len(content) > max || len(content) < max-1 {
		t.Fatalf("content of %d bytes, limit %d", len(content), max)
	}
}

func TestServerNeedsSink(t *testing.T) {
	b := xmq.NewMemoryBackend(t.Name())
	if _, err := xlogbridge.NewServer(context.Background(), b, "L1", settings(), nil); !errors.Is(err, xlogbridge.ErrNilSink) {
		t.Fatalf("nil sink err = %v", err)
	}
}

func TestNopSink(t *testing.T) {
	sink := xlogbridge.Nop()
	if sink.Log(context.Background(), "dropped").Name() != "nop" {
		t.Fatal("nop sink changed identity")
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	sink, err := xlogbridge.NewFileSink(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if sink.Name() != path {
		t.Fatalf("name %s", sink.Name())
	}
	sink.Log(context.Background(), xlogbridge.FormatLine("keypad", "1234#"))
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "TL: keypad : 1234#") {
		t.Fatalf("file %s", data)
	}
}
