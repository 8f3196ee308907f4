package presets

import (
	"time"

	"github.com/spacemeshos/go-regionsync/config"
)

func init() {
	register("fastnet", fastnet())
}

func fastnet() config.Config {
	conf := config.DefaultConfig()

	conf.Sync.MaxAttempts = 8
	conf.Sync.BaseBackoff = 100 * time.Millisecond
	conf.Sync.MaxBackoff = 5 * time.Second
	conf.Sync.RequestTimeout = 10 * time.Second
	conf.Sync.SweepInterval = 2 * time.Second
	conf.Sync.RequestsPerSecond = 100
	conf.Sync.Burst = 50

	conf.Versions.DepartedCacheSize = 4096
	return conf
}
