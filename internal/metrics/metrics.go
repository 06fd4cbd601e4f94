package metrics

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/prometheus"
)

var registry = metrics.NewRegistry()

func init() {
	// go-ethereum hands out no-op metrics unless enabled before the first metric is created
	metrics.Enabled = true
}

type (
	Counter struct {
		metrics.Counter
	}

	Gauge struct {
		metrics.Gauge
	}

	Timer struct {
		metrics.Timer
	}
)

func GetOrRegisterCounter(name string) *Counter {
	return &Counter{metrics.GetOrRegisterCounter(name, registry)}
}

func GetOrRegisterGauge(name string) *Gauge {
	return &Gauge{metrics.GetOrRegisterGauge(name, registry)}
}

func GetOrRegisterTimer(name string) *Timer {
	return &Timer{metrics.GetOrRegisterTimer(name, registry)}
}

// Since records the time elapsed since start.
func (t *Timer) Since(start time.Time) {
	t.UpdateSince(start)
}

func Enabled() bool {
	return metrics.Enabled
}

// PrometheusHandler exposes all metrics registered by this package.
func PrometheusHandler() http.Handler {
	return prometheus.Handler(registry)
}
