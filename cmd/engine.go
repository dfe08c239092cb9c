// cmd/engine.go
package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/config"
	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/events"
	"github.com/xkilldash9x/domcore/internal/metrics"
)

// engine is the tree and dispatcher a command works on.
type engine struct {
	tree   *dom.Tree
	events *events.Dispatcher
	// registry is nil unless metrics are enabled.
	registry *prometheus.Registry
}

func newEngine(cfg config.Interface, logger *zap.Logger) *engine {
	e := &engine{}
	var m *metrics.Metrics
	if mc := cfg.Metrics(); mc.Enabled {
		// A private registry keeps repeated runs in one process from
		// colliding on registration.
		e.registry = prometheus.NewRegistry()
		m = metrics.New(metrics.WithNamespace(mc.Namespace), metrics.WithRegistry(e.registry))
	}

	ac, tc := cfg.Arena(), cfg.Tree()
	e.tree = dom.New(dom.Options{
		Arena: arena.Options{
			Capacity:            ac.Capacity,
			InitialSize:         ac.InitialSize,
			CompactionThreshold: ac.CompactionThreshold,
		},
		Limits: dom.Limits{
			MaxTreeDepth:    tc.MaxTreeDepth,
			MaxChildren:     tc.MaxChildren,
			EnableShadowDOM: tc.EnableShadowDOM,
		},
		Logger:  logger,
		Metrics: m,
	})
	e.events = events.NewDispatcher(e.tree, events.Options{
		Logger:          logger,
		Metrics:         m,
		PropagatePanics: !cfg.Events().RecoverPanics,
	})
	return e
}

// metricTotals sums every metric family: counter and gauge values, and
// observation counts for histograms. It returns nil when metrics are
// disabled.
func (e *engine) metricTotals() (map[string]float64, error) {
	if e.registry == nil {
		return nil, nil
	}
	families, err := e.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(families))
	for _, f := range families {
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue() + float64(m.GetHistogram().GetSampleCount())
		}
		out[f.GetName()] = total
	}
	return out, nil
}
