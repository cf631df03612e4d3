package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"doorbus/pkg/xcommon"
	"doorbus/pkg/xlog"
	"doorbus/pkg/xlogbridge"
	"doorbus/pkg/xmbox"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	modeFull      = "full"
	modeNoAck     = "noack"
	modeImmediate = "immediate"
)

var (
	sendFrom  string
	sendTo    string
	sendMode  string
	sendTimed bool

	recvAs    string
	recvMode  string
	recvTimed bool
	recvCount int
)

func waitOptions(timed bool) xmbox.Options {
	if timed {
		return xmbox.Timed
	}
	return xmbox.Normal
}

var sendCmd = &cobra.Command{
	Use:   "send <content>",
	Short: "Send one message from a mailbox",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := xcommon.SignalContext(cmd.Context())
		defer stop()
		mb := openMailbox(ctx, sendFrom)
		defer mb.Close(context.Background())

		content := strings.Join(args, " ")
		opts := waitOptions(sendTimed)
		switch sendMode {
		case modeFull:
			return mb.SendWith(ctx, sendTo, content, opts)
		case modeNoAck:
			return mb.SendWithoutAck(ctx, sendTo, content, opts)
		case modeImmediate:
			return mb.SendImmediate(ctx, sendTo, content)
		default:
			return errors.Errorf("unknown mode %q", sendMode)
		}
	},
}

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Receive messages on a mailbox and print them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := xcommon.SignalContext(cmd.Context())
		defer stop()
		mb := openMailbox(ctx, recvAs)
		defer mb.Close(context.Background())

		opts := waitOptions(recvTimed)
		for n := 0; recvCount <= 0 || n < recvCount; {
			msg, err := receiveOne(ctx, mb, opts)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, xmbox.ErrTimeout) {
					xlog.Get(ctx).Debug("Receive timed out", zap.String("mailbox", mb.Name()), zap.Error(err))
					continue
				}
				return err
			}
			if msg.Type == xmbox.TypeSyscallInterrupted {
				return nil
			}
			if msg.IsEmpty() {
				xlog.Get(ctx).Debug("No message", zap.String("mailbox", mb.Name()))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", msg.Sender, msg.Type, msg.Content)
			n++
		}
		return nil
	},
}

// receiveOne runs one receive in the configured mode.
func receiveOne(ctx context.Context, mb *xmbox.Mailbox, opts xmbox.Options) (xmbox.Message, error) {
	switch recvMode {
	case modeFull:
		return mb.ReceiveWith(ctx, opts)
	case modeNoAck:
		if recvTimed {
			return mb.TimedReceiveWithoutAck(ctx)
		}
		return mb.ReceiveWithoutAck(ctx)
	case modeImmediate:
		return mb.ReceiveImmediate(ctx, opts), nil
	default:
		return xmbox.Message{}, errors.Errorf("unknown mode %q", recvMode)
	}
}

var logCmd = &cobra.Command{
	Use:   "log [line...]",
	Short: "Ship lines to the log bridge, from args or stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := xlogbridge.NewClient(ctx, backend, conf.Bridge.Name, conf.Mailbox)
		if err != nil {
			xlog.Fatal(ctx, "Log bridge client failed", zap.Error(err))
		}
		defer client.Close(context.Background())

		if len(args) > 0 {
			client.Log(ctx, strings.Join(args, " "))
			return nil
		}
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			client.Log(ctx, scanner.Text())
		}
		return errors.Wrap(scanner.Err(), "read stdin")
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "sender mailbox identifier")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "destination mailbox identifier")
	sendCmd.Flags().StringVar(&sendMode, "mode", modeFull, "full, noack or immediate")
	sendCmd.Flags().BoolVar(&sendTimed, "timed", false, "bound every wait by the RTO")
	_ = sendCmd.MarkFlagRequired("from")
	_ = sendCmd.MarkFlagRequired("to")

	recvCmd.Flags().StringVar(&recvAs, "as", "", "mailbox identifier to receive on")
	recvCmd.Flags().StringVar(&recvMode, "mode", modeFull, "full, noack or immediate")
	recvCmd.Flags().BoolVar(&recvTimed, "timed", false, "bound every wait by the RTO")
	recvCmd.Flags().IntVar(&recvCount, "count", 0, "stop after this many messages, 0 runs until a signal")
	_ = recvCmd.MarkFlagRequired("as")

	rootCmd.AddCommand(sendCmd, recvCmd, logCmd)
}
