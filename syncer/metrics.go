package syncer

import (
	"github.com/spacemeshos/go-regionsync/metrics"
)

const (
	namespace = "syncer"
)

var (
	requests = metrics.NewCounter(
		"requests",
		namespace,
		"number of synchronization requests by outcome",
		[]string{"outcome"},
	)
	requestSuccess    = requests.WithLabelValues("ok")
	requestFail       = requests.WithLabelValues("fail")
	requestTimeout    = requests.WithLabelValues("timeout")
	requestCancelled  = requests.WithLabelValues("cancelled")
	requestSkipped    = requests.WithLabelValues("skipped")
	requestIncomplete = requests.WithLabelValues("incomplete")

	inFlight = metrics.NewGauge(
		"in_flight",
		namespace,
		"number of synchronization requests waiting for a result",
		[]string{},
	).WithLabelValues()

	unrecoverable = metrics.NewCounter(
		"unrecoverable",
		namespace,
		"number of gaps reported as unrecoverable",
		[]string{},
	).WithLabelValues()

	requestLatency = metrics.NewHistogramWithBuckets(
		"request_duration_seconds",
		namespace,
		"duration of synchronization requests",
		[]string{},
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	).WithLabelValues()
)
