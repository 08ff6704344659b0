// Package metrics exposes the broadcaster process's own health as Prometheus
// collectors: sampling ticks, the last published snapshot, and live websocket
// connections.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"hwcast/internal/models"
)

const namespace = "hwcast"

// Telemetry groups the collectors. A nil *Telemetry records nothing.
type Telemetry struct {
	ticks            *prometheus.CounterVec
	cpuPercent       prometheus.Gauge
	memPercent       prometheus.Gauge
	netKiB           prometheus.Gauge
	connections      prometheus.Gauge
	connectionsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "ticks_total",
			Help:      "Sampling ticks by result (published or skipped).",
		}, []string{"result"}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_percent",
			Help:      "CPU percentage in the last published snapshot.",
		}),
		memPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mem_percent",
			Help:      "Memory percentage in the last published snapshot.",
		}),
		netKiB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "net_kib",
			Help:      "Network KiB moved during the last published interval.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Live websocket subscribers.",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Websocket connection attempts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(t.ticks, t.cpuPercent, t.memPercent, t.netKiB, t.connections, t.connectionsTotal)
	return t
}

// Tick outcomes.
const (
	TickPublished = "published"
	TickSkipped   = "skipped"
)

// Connection outcomes.
const (
	ConnAccepted    = "accepted"
	ConnRejected    = "rejected"
	ConnRateLimited = "rate_limited"
)

// ObserveTick counts one sampling tick.
func (t *Telemetry) ObserveTick(result string) {
	if t == nil {
		return
	}
	t.ticks.WithLabelValues(result).Inc()
}

// ObserveSnapshot records the values of a published snapshot.
func (t *Telemetry) ObserveSnapshot(s models.HardwareSnapshot) {
	if t == nil {
		return
	}
	t.cpuPercent.Set(float64(s.CPUPercent))
	t.memPercent.Set(float64(s.MemPercent))
	t.netKiB.Set(float64(s.NetKiB))
}

// ObserveConnection counts one websocket admission outcome.
func (t *Telemetry) ObserveConnection(outcome string) {
	if t == nil {
		return
	}
	t.connectionsTotal.WithLabelValues(outcome).Inc()
}

func (t *Telemetry) ConnectionOpened() {
	if t == nil {
		return
	}
	t.connections.Inc()
}

func (t *Telemetry) ConnectionClosed() {
	if t == nil {
		return
	}
	t.connections.Dec()
}
