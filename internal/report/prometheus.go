package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry returns a Prometheus registry holding the report as gauges, for
// node-exporter textfile collection.
func Registry(r Report) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	items := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pubsweep",
		Name:      "items",
		Help:      "Work items per pipeline, partition group and state.",
	}, []string{"pipeline", "group", "state"})
	chunks := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pubsweep",
		Name:      "chunks",
		Help:      "Chunks per pipeline and partition group.",
	}, []string{"pipeline", "group"})
	skipped := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pubsweep",
		Name:      "skipped_partitions",
		Help:      "Partitions skipped in the last pass because of errors.",
	}, []string{"pipeline"})
	completeRatio := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pubsweep",
		Name:      "complete_ratio",
		Help:      "Complete items as a fraction of expected items.",
	}, []string{"pipeline"})
	generated := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pubsweep",
		Name:      "report_generated_timestamp_seconds",
		Help:      "Unix time the report was generated.",
	})
	for _, c := range []prometheus.Collector{items, chunks, skipped, completeRatio, generated} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	for _, p := range r.Pipelines {
		for _, g := range p.Groups {
			states := map[string]int{
				"expected":  g.Expected,
				"complete":  g.Complete,
				"in_flight": g.InFlight,
				"partial":   g.Partial,
				"missing":   g.Missing,
				"failed":    g.Failed,
				"present":   g.Present,
			}
			for state, n := range states {
				items.WithLabelValues(p.Name, g.Key, state).Set(float64(n))
			}
			chunks.WithLabelValues(p.Name, g.Key).Set(float64(g.Chunks))
		}
		skipped.WithLabelValues(p.Name).Set(float64(len(p.Skipped)))
		completeRatio.WithLabelValues(p.Name).Set(p.Total.Percent(p.Total.Complete) / 100)
	}
	generated.Set(float64(r.GeneratedAt.Unix()))
	return reg, nil
}

// WritePrometheus writes the report in the Prometheus text format to path.
func WritePrometheus(path string, r Report) error {
	reg, err := Registry(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create textfile dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write textfile: %w", err)
	}
	return nil
}
