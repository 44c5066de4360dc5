package harness

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/afero"

	"github.com/sarchlab/socsim/driver"
)

const metricsNamespace = "socsim"

// Metrics counts batch results in a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	tests        *prometheus.CounterVec
	cycles       prometheus.Counter
	loadWarnings prometheus.Counter
	duration     prometheus.Histogram
	modelEvents  *prometheus.CounterVec
}

// NewMetrics creates the batch metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		tests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tests_total",
			Help:      "Tests run, by verdict.",
		}, []string{"verdict"}),
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "simulated_cycles_total",
			Help:      "Clock toggles simulated, reset included.",
		}),
		loadWarnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "load_warnings_total",
			Help:      "Non-fatal diagnostics raised while loading images.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one test run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		modelEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "model_events_total",
			Help:      "Counters reported by the hardware model, summed over runs.",
		}, []string{"event"}),
	}
}

// VerdictLabel is the label value used for an outcome.
func VerdictLabel(o driver.Outcome) string {
	if o.Aborted {
		return "aborted"
	}
	return string(o.Verdict)
}

// Observe records one outcome.
func (m *Metrics) Observe(o driver.Outcome) {
	m.tests.WithLabelValues(VerdictLabel(o)).Inc()
	m.cycles.Add(float64(o.Cycles))
	m.loadWarnings.Add(float64(len(o.LoadWarnings)))
	m.duration.Observe(o.Duration.Seconds())
	for event, n := range o.ModelStats {
		m.modelEvents.WithLabelValues(event).Add(float64(n))
	}
}

// WriteToTextfile writes the metrics in the text exposition format, for
// the node exporter's textfile collector. The file is written under a
// temporary name and renamed into place.
func (m *Metrics) WriteToTextfile(fs afero.Fs, path string) error {
	families, err := m.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return errors.Wrap(err, "failed to encode metrics")
		}
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write metrics %s", path)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return errors.Wrapf(err, "failed to write metrics %s", path)
	}
	return nil
}
