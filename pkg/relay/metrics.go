package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aether_events_accepted_total",
		Help: "Events that passed validation.",
	})
	metricRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aether_events_rejected_total",
		Help: "Events rejected by validation, by reason code.",
	}, []string{"reason"})
	metricDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aether_events_delivered_total",
		Help: "Events handed to subscription sinks.",
	})
	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aether_events_dropped_total",
		Help: "Events displaced from full outboxes by drop-oldest.",
	})
	metricSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aether_subscriptions",
		Help: "Live subscriptions.",
	})
)
