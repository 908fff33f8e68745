package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEventsDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vrcompanion",
		Name:      "bridge_events_decoded_total",
		Help:      "Realtime events decoded from the bridge.",
	})
	metricsEventsUnhandled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vrcompanion",
		Name:      "bridge_events_unhandled_total",
		Help:      "Realtime events with an unimplemented code.",
	})
	metricsEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vrcompanion",
		Name:      "bridge_events_dropped_total",
		Help:      "Realtime events dropped as malformed.",
	})
	metricsFeedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vrcompanion",
		Name:      "feed_entries_total",
		Help:      "Feed entries accepted by the aggregator.",
	})
	metricsNotifyDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vrcompanion",
		Name:      "notifications_delivered_total",
		Help:      "Notifications delivered, by sink.",
	}, []string{"sink"})
	metricsNotifySuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vrcompanion",
		Name:      "notifications_suppressed_total",
		Help:      "Notifications suppressed by dispatch guards, by reason.",
	}, []string{"reason"})
)
