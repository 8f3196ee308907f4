package versions

import "github.com/spacemeshos/go-regionsync/metrics"

const namespace = "versions"

var (
	observedVersions = metrics.NewCounter(
		"observed",
		namespace,
		"number of observed versions by outcome",
		[]string{"outcome"},
	)

	trackedPeers = metrics.NewGauge(
		"peers",
		namespace,
		"number of peers tracked by version vectors",
		[]string{},
	).WithLabelValues()
)
