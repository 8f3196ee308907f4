package presets

import (
	"time"

	"github.com/spacemeshos/go-regionsync/config"
)

func init() {
	register("standalone", standalone())
}

// standalone is used to replay traces on a single machine.
func standalone() config.Config {
	conf := config.DefaultConfig()

	conf.Sync.MaxAttempts = 3
	conf.Sync.BaseBackoff = 10 * time.Millisecond
	conf.Sync.MaxBackoff = 50 * time.Millisecond
	conf.Sync.RequestTimeout = time.Second
	conf.Sync.SweepInterval = 100 * time.Millisecond
	conf.Sync.RequestsPerSecond = 0

	conf.LOGGING.AppLoggerLevel = "warn"
	conf.LOGGING.VersionsLoggerLevel = "warn"
	conf.LOGGING.SyncLoggerLevel = "warn"
	return conf
}
