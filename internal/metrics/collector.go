package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
	"github.com/Altius/stampipes/programs/decode_index/internal/match"
)

const namespace = "decode_index"

// Collector exposes decode progress as Prometheus counters. It keeps its own
// registry so several runs in one process do not collide.
type Collector struct {
	registry *prometheus.Registry

	readsCounter   *prometheus.CounterVec
	writtenCounter *prometheus.CounterVec
	runsCounter    *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		readsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_total",
			Help:      "The total number of reads classified, by barcode name and outcome.",
		}, []string{"barcode", "outcome"}),
		writtenCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "The total number of records dispatched to each destination.",
		}, []string{"destination"}),
		runsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "The total number of decode runs, by final state.",
		}, []string{"state"}),
	}
}

// Observe counts one read classified as res under the given bucket name.
func (c *Collector) Observe(name string, res match.Result) {
	c.readsCounter.WithLabelValues(name, res.Outcome.String()).Inc()
}

// Written counts n records dispatched to destination.
func (c *Collector) Written(destination string, n int) {
	c.writtenCounter.WithLabelValues(destination).Add(float64(n))
}

// RunFinished counts a run ending in state.
func (c *Collector) RunFinished(state string) {
	c.runsCounter.WithLabelValues(state).Inc()
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// WriteTextfile writes every counter in the node exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	return errdefs.IO("write", path, prometheus.WriteToTextfile(path, c.registry))
}
