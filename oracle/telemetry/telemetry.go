package telemetry

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	metricsprom "github.com/armon/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GPTx-global/crank/oracle/types"
)

const ServiceName = "crank"

var (
	once    sync.Once
	handler http.Handler
	initErr error
)

// Init routes metrics to a Prometheus sink and returns the scrape handler.
// Until Init is called metrics are discarded. Safe to call more than once.
func Init() (http.Handler, error) {
	once.Do(func() {
		sink, err := metricsprom.NewPrometheusSink()
		if err != nil {
			initErr = err
			return
		}

		cfg := metrics.DefaultConfig(ServiceName)
		cfg.EnableHostname = false
		cfg.EnableRuntimeMetrics = false

		if _, err := metrics.NewGlobal(cfg, sink); err != nil {
			initErr = err
			return
		}

		handler = promhttp.Handler()
	})

	return handler, initErr
}

// MeasureSince records the time elapsed since start under key.
func MeasureSince(start time.Time, key ...string) {
	metrics.MeasureSince(key, start)
}

// SetSuccessCount records the success count of the last aggregated reply.
func SetSuccessCount(n int) {
	metrics.SetGauge([]string{"quorum", "success_count"}, float32(n))
}

// RecordRun counts a finished run by result, stage and error class.
func RecordRun(stage types.Stage, err error, start time.Time) {
	labels := []metrics.Label{{Name: "stage", Value: stage.String()}}

	if err == nil {
		metrics.IncrCounterWithLabels([]string{"run", "ok"}, 1, labels)
		metrics.MeasureSinceWithLabels([]string{"run", "duration"}, start, labels)
		return
	}

	labels = append(labels, metrics.Label{Name: "class", Value: className(err)})
	metrics.IncrCounterWithLabels([]string{"run", "failed"}, 1, labels)
	metrics.MeasureSinceWithLabels([]string{"run", "duration"}, start, labels)
}

func className(err error) string {
	switch class := types.Class(err); {
	case class == nil:
		return "unknown"
	case errors.Is(class, types.ErrConfiguration):
		return "configuration"
	case errors.Is(class, types.ErrGateway):
		return "gateway"
	case errors.Is(class, types.ErrCompile):
		return "compile"
	case errors.Is(class, types.ErrSimulationRejected):
		return "simulation_rejected"
	default:
		return "submission"
	}
}
