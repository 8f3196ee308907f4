package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cmdp "github.com/spacemeshos/go-regionsync/cmd"
	"github.com/spacemeshos/go-regionsync/log"
	"github.com/spacemeshos/go-regionsync/metrics"
	"github.com/spacemeshos/go-regionsync/sim"
)

var settleTimeout = 30 * time.Second

// Cmd replays a region trace and prints the final state of the region.
var Cmd = &cobra.Command{
	Use:   "regionsim <trace.yaml>",
	Short: "replay a trace of region updates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := NewSimApp()
		if err := app.Initialize(cmd); err != nil {
			return err
		}
		return app.Start(cmd, args[0])
	},
}

func init() {
	cmdp.AddCommands(Cmd)
	Cmd.Flags().DurationVar(&settleTimeout, "settle-timeout", settleTimeout,
		"how long to wait for outstanding synchronizations")
}

type SimApp struct {
	*cmdp.BaseApp
}

func NewSimApp() *SimApp {
	return &SimApp{BaseApp: cmdp.NewBaseApp()}
}

func (app *SimApp) Start(cmd *cobra.Command, path string) error {
	ctx := cmdp.Ctx()
	defer cmdp.Cancel()()

	conf := app.Config
	versionsLogger, err := app.NewLogger("versions", conf.LOGGING.VersionsLoggerLevel)
	if err != nil {
		return log.ErrMalformedConfig(err)
	}
	syncLogger, err := app.NewLogger("sync", conf.LOGGING.SyncLoggerLevel)
	if err != nil {
		return log.ErrMalformedConfig(err)
	}

	if conf.CollectMetrics {
		metricsLogger, err := app.NewLogger("metrics", conf.LOGGING.MetricsLoggerLevel)
		if err != nil {
			return log.ErrMalformedConfig(err)
		}
		srv, err := metrics.StartServer(metricsLogger, conf.MetricsPort)
		if err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(ctx); err != nil {
				app.Logger.Warn("failed to stop metrics server", zap.Error(err))
			}
		}()
		if conf.MetricsPush != "" {
			metrics.StartPushingMetrics(ctx, metricsLogger, conf.MetricsPush, "regionsim", conf.MetricsPushPeriod)
		}
	}

	trace, err := sim.ReadTraceFile(path)
	if err != nil {
		return log.ErrReadTrace(err)
	}
	app.Logger.Info("replaying trace",
		zap.String("path", path),
		zap.Int("events", len(trace.Events)),
		zap.String("version", cmdp.Version),
	)
	report, err := sim.Run(ctx, trace,
		sim.WithLogger(app.Logger),
		sim.WithVersionsLogger(versionsLogger),
		sim.WithSyncLogger(syncLogger),
		sim.WithVersionsConfig(conf.Versions),
		sim.WithSyncConfig(conf.Sync),
		sim.WithSettleTimeout(settleTimeout),
	)
	if err != nil {
		return fmt.Errorf("run trace %s: %w", path, err)
	}
	return report.Encode(cmd.OutOrStdout())
}

func main() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
