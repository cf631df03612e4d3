package xwatchdog

import (
	"context"
	"strconv"
	"strings"

	"doorbus/pkg/xmbox"
	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
)

// Client is the unit side. Every request uses the full handshake.
type Client struct {
	mb       *xmbox.Mailbox
	server   string
	settings SlotSettings
	action   Action
	slot     int
}

func NewClient(ctx context.Context, backend xmq.Backend, unit, watchdog string, slot SlotSettings, action Action, settings xmbox.Settings) (*Client, error) {
	if err := slot.Validate(); err != nil {
		return nil, err
	}
	mb, err := xmbox.NewMailbox(ctx, backend, unit, settings)
	if err != nil {
		return nil, err
	}
	return &Client{mb: mb, server: ServerName(watchdog), settings: slot, action: action, slot: -1}, nil
}

func (c *Client) Name() string { return c.mb.Name() }

// Slot is the slot granted by Register, -1 before.
func (c *Client) Slot() int { return c.slot }

func (c *Client) request(ctx context.Context, verb string, args ...string) error {
	req := Request{Verb: verb, Args: args}
	return errors.WithMessagef(c.mb.TimedSend(ctx, c.server, req.String()), "watchdog %s", verb)
}

// Register asks for a slot and waits for the server's reply.
func (c *Client) Register(ctx context.Context) (int, error) {
	args := append(c.settings.args(), c.action.String())
	if err := c.request(ctx, VerbRegister, args...); err != nil {
		return -1, err
	}
	msg, err := c.mb.TimedReceive(ctx)
	if err != nil {
		return -1, errors.WithMessage(err, "watchdog register reply")
	}
	if msg.Sender != c.server {
		return -1, errors.Wrapf(ErrBadRequest, "reply from %s", msg.Sender)
	}
	reply, err := ParseRequest(msg.Content)
	if err != nil {
		return -1, err
	}
	switch reply.Verb {
	case ReplyRegistered:
		if len(reply.Args) != 1 {
			return -1, errors.Wrapf(ErrBadRequest, "reply %q", msg.Content)
		}
		slot, err := strconv.Atoi(reply.Args[0])
		if err != nil {
			return -1, errors.Wrapf(ErrBadRequest, "reply %q", msg.Content)
		}
		c.slot = slot
		return slot, nil
	case ReplyRejected:
		return -1, errors.Wrapf(ErrRejected, "%s", strings.Join(reply.Args, " "))
	default:
		return -1, errors.Wrapf(ErrBadRequest, "reply %q", msg.Content)
	}
}

func (c *Client) Unregister(ctx context.Context) error {
	if err := c.request(ctx, VerbUnregister); err != nil {
		return err
	}
	c.slot = -1
	return nil
}

func (c *Client) Start(ctx context.Context) error { return c.request(ctx, VerbStart) }
func (c *Client) Stop(ctx context.Context) error  { return c.request(ctx, VerbStop) }
func (c *Client) Kick(ctx context.Context) error  { return c.request(ctx, VerbKick) }

func (c *Client) UpdateSettings(ctx context.Context, settings SlotSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := c.request(ctx, VerbUpdate, settings.args()...); err != nil {
		return err
	}
	c.settings = settings
	return nil
}

// Terminate reports the unit as failed, triggering its action.
func (c *Client) Terminate(ctx context.Context) error { return c.request(ctx, VerbTerminate) }

// Terminated polls for the server's TERMINATE broadcast without blocking.
func (c *Client) Terminated(ctx context.Context) bool {
	msg := c.mb.WaitFor(ctx, VerbTerminate, c.server, xmbox.Nonblocking)
	return msg.Sender == c.server && msg.Content == VerbTerminate
}

// Sync blocks until the server's SYNC broadcast arrives.
func (c *Client) Sync(ctx context.Context) error {
	msg := c.mb.WaitFor(ctx, VerbSync, c.server, xmbox.Normal)
	switch msg.Type {
	case xmbox.TypeSyscallInterrupted:
		return errors.Wrap(xmq.ErrInterrupted, msg.Content)
	case xmbox.TypeError:
		return errors.Errorf("watchdog sync: %s", msg.Content)
	}
	return nil
}

// Resync asks for SYNC again, for a unit that registered after the broadcast.
func (c *Client) Resync(ctx context.Context) error {
	if err := c.request(ctx, VerbSync); err != nil {
		return err
	}
	return c.Sync(ctx)
}

func (c *Client) Close(ctx context.Context) error {
	return c.mb.Close(ctx)
}
