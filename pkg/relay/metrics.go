package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRelayReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recap",
		Subsystem: "relay",
		Name:      "reconnects_total",
		Help:      "Control channel reconnect attempts after failure or loss.",
	})

	metricRelayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recap",
		Subsystem: "relay",
		Name:      "requests_total",
		Help:      "Relay-forwarded requests handled, by kind.",
	}, []string{"kind"})
)
