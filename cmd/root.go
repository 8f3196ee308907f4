package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/spacemeshos/go-regionsync/config"
	"github.com/spacemeshos/go-regionsync/config/presets"
)

var config = cfg.DefaultConfig()

// AddCommands adds cobra commands to the app.
func AddCommands(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("preset", "p", "",
		fmt.Sprintf("preset overwrites default values of the config. options %+s", presets.Options()))

	/** ======================== BaseConfig Flags ========================== **/
	cmd.PersistentFlags().StringVarP(&config.BaseConfig.ConfigFile,
		"config", "c", config.BaseConfig.ConfigFile, "Set Load configuration from file")
	cmd.PersistentFlags().StringVar(&config.LOGGING.Encoder, "log-encoder",
		config.LOGGING.Encoder, "Log encoder, console or json")
	cmd.PersistentFlags().BoolVar(&config.CollectMetrics, "metrics",
		config.CollectMetrics, "collect metrics")
	cmd.PersistentFlags().IntVar(&config.MetricsPort, "metrics-port",
		config.MetricsPort, "metric server port")
	cmd.PersistentFlags().StringVar(&config.MetricsPush, "metrics-push",
		config.MetricsPush, "Push metrics to url")
	cmd.PersistentFlags().DurationVar(&config.MetricsPushPeriod, "metrics-push-period",
		config.MetricsPushPeriod, "Push period")

	/** ======================== Versions Flags ========================== **/
	cmd.PersistentFlags().IntVar(&config.Versions.DepartedCacheSize, "departed-cache-size",
		config.Versions.DepartedCacheSize, "number of departed peers remembered to reject their late versions")

	/** ======================== Sync Flags ========================== **/
	cmd.PersistentFlags().IntVar(&config.Sync.MaxAttempts, "max-attempts",
		config.Sync.MaxAttempts, "synchronization attempts before a gap is reported as unrecoverable")
	cmd.PersistentFlags().DurationVar(&config.Sync.BaseBackoff, "base-backoff",
		config.Sync.BaseBackoff, "delay before the first retry of a failed synchronization")
	cmd.PersistentFlags().DurationVar(&config.Sync.MaxBackoff, "max-backoff",
		config.Sync.MaxBackoff, "upper bound for the delay between retries")
	cmd.PersistentFlags().DurationVar(&config.Sync.RequestTimeout, "request-timeout",
		config.Sync.RequestTimeout, "timeout for a single synchronization request")
	cmd.PersistentFlags().DurationVar(&config.Sync.SweepInterval, "sweep-interval",
		config.Sync.SweepInterval, "interval between scans for peers with unscheduled gaps")
	cmd.PersistentFlags().Float64Var(&config.Sync.RequestsPerSecond, "requests-per-second",
		config.Sync.RequestsPerSecond, "rate limit for synchronization requests, 0 disables the limit")
	cmd.PersistentFlags().IntVar(&config.Sync.Burst, "burst",
		config.Sync.Burst, "burst of synchronization requests allowed above the rate limit")

	// Bind Flags to config
	err := viper.BindPFlags(cmd.PersistentFlags())
	if err != nil {
		fmt.Println("an error has occurred while binding flags:", err)
	}
}
