package node

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type nodeMetrics struct {
	registry   *prometheus.Registry
	commands   *prometheus.CounterVec
	queueDepth prometheus.Gauge
}

func newNodeMetrics(namespace string) *nodeMetrics {
	if namespace == "" {
		namespace = "dlcd"
	}
	m := &nodeMetrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands run by the node worker, by kind and outcome.",
		}, []string{"kind", "result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_queue_depth",
			Help:      "Commands waiting for the node worker.",
		}),
	}
	m.registry.MustRegister(m.commands, m.queueDepth)
	return m
}

func (m *nodeMetrics) observe(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(kind, result).Inc()
}

// handler serves the node's metrics together with the process-wide ones.
func (m *nodeMetrics) handler() http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{m.registry, prometheus.DefaultGatherer}, promhttp.HandlerOpts{})
}
