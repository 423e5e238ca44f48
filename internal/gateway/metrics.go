package gateway

import "github.com/prometheus/client_golang/prometheus"

// hubMetrics are the counters a Hub exposes to a Prometheus registry.
// Per-session consecutive-failure counts stay in the Session itself —
// exporting those as a metric would mean one series per session.
type hubMetrics struct {
	r prometheus.Registerer

	sent     prometheus.Counter
	dropped  prometheus.Counter
	evicted  prometheus.Counter
	sessions prometheus.Gauge
}

func newHubMetrics(r prometheus.Registerer) *hubMetrics {
	m := &hubMetrics{r: r}

	m.sent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qaxcore_gateway_messages_sent_total",
		Help: "Total number of messages successfully sent to a session channel.",
	})
	m.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qaxcore_gateway_messages_dropped_total",
		Help: "Total number of messages dropped because a session channel was full.",
	})
	m.evicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qaxcore_gateway_sessions_evicted_total",
		Help: "Total number of sessions evicted for crossing the disconnect threshold.",
	})
	m.sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "qaxcore_gateway_active_sessions",
		Help: "Current number of registered sessions.",
	})

	if r != nil {
		r.MustRegister(m.sent, m.dropped, m.evicted, m.sessions)
	}

	return m
}
