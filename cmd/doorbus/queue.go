package main

import (
	"strconv"

	"doorbus/pkg/xcommon"
	"doorbus/pkg/xmbox"
	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <mailbox...>",
	Short: "Print queue attributes of mailboxes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rows := make([][]string, 0, len(args))
		var errs error
		for _, id := range args {
			ref, err := xmbox.NewReference(ctx, backend, id, conf.Mailbox)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			attr, err := ref.Attr()
			errs = multierr.Append(errs, err)
			errs = multierr.Append(errs, ref.Close(ctx))
			if err != nil {
				continue
			}
			flags := "-"
			if attr.Flags&xmq.FlagNonblock != 0 {
				flags = "O_NONBLOCK"
			}
			rows = append(rows, []string{
				ref.Name(),
				strconv.Itoa(attr.MaxMsg),
				strconv.Itoa(attr.MsgSize),
				strconv.Itoa(attr.CurMsgs),
				flags,
			})
		}
		xcommon.FprintTable(ctx, cmd.OutOrStdout(), []string{"mailbox", "maxmsg", "msgsize", "curmsgs", "flags"}, rows)
		return errs
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <mailbox...>",
	Short: "Remove mailbox queues",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var errs error
		for _, id := range args {
			name := xmbox.NormalizeIdentifier(id)
			if name == "" {
				errs = multierr.Append(errs, errors.Wrapf(xmbox.ErrEmptyIdentifier, "%q", id))
				continue
			}
			errs = multierr.Append(errs, backend.Unlink("/"+name))
		}
		return errs
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd, unlinkCmd)
}
