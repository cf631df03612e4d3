package main

import (
	"context"
	"time"

	"doorbus/pkg/xcommon"
	"doorbus/pkg/xenv"
	"doorbus/pkg/xlatency"
	"doorbus/pkg/xlog"
	"doorbus/pkg/xmbox"
	"doorbus/pkg/xmq"
	"doorbus/pkg/xwatchdog"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type bridgeConfig struct {
	Name     string `env:"NAME" envDefault:"logbridge" yaml:"name"`
	File     string `env:"FILE" yaml:"file"` // empty discards bridged lines
	MaxBytes int64  `env:"MAX_BYTES" envDefault:"1048576" yaml:"max_bytes"`
}

type config struct {
	Log             xlog.Config      `envPrefix:"LOG_" yaml:"log"`
	Mailbox         xmbox.Settings   `envPrefix:"MBOX_" yaml:"mailbox"`
	Watchdog        xwatchdog.Config `envPrefix:"WATCHDOG_" yaml:"watchdog"`
	Bridge          bridgeConfig     `envPrefix:"BRIDGE_" yaml:"bridge"`
	Link            xlatency.Config  `envPrefix:"LINK_" yaml:"link"` // fault injection on sends
	MetricsFile     string           `env:"METRICS_FILE" yaml:"metrics_file"`
	MetricsInterval time.Duration    `env:"METRICS_INTERVAL" envDefault:"15s" yaml:"metrics_interval"`
}

var (
	cfgFile     string
	backendName string
	metricsFile string

	conf       config
	backend    xmq.Backend
	closeLog   func() error
	link       *xlatency.Backend
	metricsWg  xcommon.WaitGroup
	stopMetric context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "doorbus",
	Short:         "Rendezvous mailboxes over OS message queues",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := xenv.Load(cfgFile, &conf); err != nil {
			return err
		}
		if backendName != "" {
			conf.Mailbox.Backend = backendName
		}
		if metricsFile != "" {
			conf.MetricsFile = metricsFile
		}
		var err error
		if closeLog, err = xlog.Init(conf.Log); err != nil {
			return err
		}
		if backend, err = conf.Mailbox.OpenBackend(); err != nil {
			return err
		}
		if conf.Link.Enabled() {
			if link, err = xlatency.Wrap(cmd.Context(), backend, conf.Link); err != nil {
				return err
			}
			xlog.Get(cmd.Context()).Warn("Sends go through a lossy link",
				zap.Uint32("loss", conf.Link.Loss), zap.Duration("latency", conf.Link.Latency))
			backend = link
		}
		startMetrics(cmd.Context())
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		stopMetrics(cmd.Context())
		if link != nil {
			link.Close(cmd.Context())
			link = nil
		}
		if closeLog != nil {
			return closeLog()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "yaml config file, applied over DOORBUS_* environment")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "queue backend: memory or posix")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write mailbox metrics to this textfile")
}

// startMetrics writes the metrics textfile periodically until stopMetrics.
func startMetrics(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if conf.MetricsFile == "" || conf.MetricsInterval <= 0 {
		stopMetric = func() {}
		return
	}
	ctx, stopMetric = context.WithCancel(ctx)
	metricsWg.Go(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(conf.MetricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writeMetrics(ctx)
			case <-ctx.Done():
				return
			}
		}
	})
}

func stopMetrics(ctx context.Context) {
	if stopMetric != nil {
		stopMetric()
	}
	metricsWg.Wait()
	if conf.MetricsFile != "" {
		writeMetrics(ctx)
	}
}

func writeMetrics(ctx context.Context) {
	if err := xmbox.WriteMetrics(conf.MetricsFile); err != nil {
		xlog.Get(ctx).Warn("Write metrics failed", zap.String("file", conf.MetricsFile), zap.Error(err))
	}
}
