package xlogbridge

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"doorbus/pkg/xlog"
	"doorbus/pkg/xmbox"
	"doorbus/pkg/xmq"
)

// ClientName and ServerName derive the bridge mailbox identifiers.
func ClientName(name string) string { return name + ".client" }
func ServerName(name string) string { return name + ".server" }

// Client is a Sink that forwards lines to the bridge server. Lines that do not
// fit a queue message are truncated, delivery is best effort.
// Client is safe for concurrent use and implements zapcore.WriteSyncer.
type Client struct {
	ctx    context.Context
	server string

	mu  sync.Mutex
	mb  *xmbox.Mailbox
	max int
}

func NewClient(ctx context.Context, backend xmq.Backend, name string, settings xmbox.Settings) (*Client, error) {
	mb, err := xmbox.NewMailbox(ctx, backend, ClientName(name), settings)
	if err != nil {
		return nil, err
	}
	server, err := mb.Peer(ctx, ServerName(name))
	if err != nil {
		_ = mb.Close(ctx)
		return nil, err
	}
	// lines written through Write may come from xlog itself
	return &Client{
		ctx:    xlog.WithLogger(ctx, xlog.Nop()),
		server: server.Name(),
		mb:     mb,
		max:    server.MaxMsgSize() - len(mb.Name()) - len(xmbox.Delimiter),
	}, nil
}

func (c *Client) Name() string { return c.mb.Name() }

func (c *Client) Log(ctx context.Context, line string) Sink {
	line = c.fit(line)
	if line == "" {
		return c
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.mb.SendWith(ctx, c.server, line, xmbox.Connectionless.Union(xmbox.Timed))
	return c
}

func (c *Client) fit(line string) string {
	line = strings.TrimRight(line, "\n")
	if i := strings.IndexByte(line, 0); i >= 0 {
		line = line[:i]
	}
	if c.max > 0 && len(line) > c.max {
		cut := c.max
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut]
	}
	return line
}

// Write sends every line of p. It never fails, lost lines are not reported.
func (c *Client) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		c.Log(c.ctx, line)
	}
	return len(p), nil
}

func (c *Client) Sync() error { return nil }

func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mb.Close(ctx)
}
