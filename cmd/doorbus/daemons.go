package main

import (
	"context"

	"doorbus/pkg/xcommon"
	"doorbus/pkg/xlog"
	"doorbus/pkg/xlogbridge"
	"doorbus/pkg/xmbox"
	"doorbus/pkg/xwatchdog"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var logdCmd = &cobra.Command{
	Use:   "logd",
	Short: "Run the log bridge server",
	Long:  "Receive lines from <name>.client mailboxes on <name>.server and write them to the bridge file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := xcommon.SignalContext(cmd.Context())
		defer stop()
		ctx = xlog.Named(ctx, "logd", zap.String("bridge", conf.Bridge.Name))

		sink := xlogbridge.Nop()
		if conf.Bridge.File != "" {
			file, err := xlogbridge.NewFileSink(conf.Bridge.File, conf.Bridge.MaxBytes)
			if err != nil {
				xlog.Fatal(ctx, "Bridge file open failed", zap.String("file", conf.Bridge.File), zap.Error(err))
			}
			defer file.Close()
			sink = file
		} else {
			xlog.Get(ctx).Warn("No bridge file configured, lines are discarded")
		}

		server, err := xlogbridge.NewServer(ctx, backend, conf.Bridge.Name, conf.Mailbox, sink)
		if err != nil {
			xlog.Fatal(ctx, "Log bridge startup failed", zap.Error(err))
		}
		defer server.Close(xlog.FromContext(ctx, context.Background()))
		return server.Serve(ctx)
	},
}

var watchdogdCmd = &cobra.Command{
	Use:   "watchdogd",
	Short: "Run the watchdog server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := xcommon.SignalContext(cmd.Context())
		defer stop()
		ctx = xlog.Named(ctx, "watchdogd", zap.String("watchdog", conf.Watchdog.Name))

		server, err := xwatchdog.NewServer(ctx, backend, conf.Watchdog, conf.Mailbox, xwatchdog.Hooks{
			OnReset: func(ctx context.Context, u xwatchdog.Unit) {
				xlog.Get(ctx).Warn("Unit reset", zap.String("unit", u.Name), zap.Int("slot", u.Slot))
			},
			OnKillAll: func(ctx context.Context, u xwatchdog.Unit) {
				xlog.Get(ctx).Error("Unit failed with KILL_ALL", zap.String("unit", u.Name))
			},
		})
		if err != nil {
			xlog.Fatal(ctx, "Watchdog startup failed", zap.Error(err))
		}
		defer server.Close(xlog.FromContext(ctx, context.Background()))

		if conf.Watchdog.SyncTTL > 0 {
			if err := server.StartSynchronization(ctx, conf.Watchdog.SyncTimeout, conf.Watchdog.SyncTTL); err != nil {
				return err
			}
		}
		if err := server.Serve(ctx); err != nil {
			return err
		}
		if server.TerminationRequested() {
			return server.TerminateAll(xlog.FromContext(ctx, context.Background()))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logdCmd, watchdogdCmd)
}

// openMailbox is the role startup path: failures are fatal.
func openMailbox(ctx context.Context, id string) *xmbox.Mailbox {
	return xmbox.MustNewMailbox(ctx, backend, id, conf.Mailbox)
}
