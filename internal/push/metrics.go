package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chores",
			Subsystem: "push",
			Name:      "deliveries_total",
			Help:      "Push deliveries by outcome (sent, skipped, failed, dropped).",
		},
		[]string{"outcome"},
	)

	connectedIdentities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chores",
			Subsystem: "push",
			Name:      "identities",
			Help:      "Identities with at least one authenticated channel.",
		},
	)

	connectedChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chores",
			Subsystem: "push",
			Name:      "channels",
			Help:      "Authenticated push channels.",
		},
	)
)
