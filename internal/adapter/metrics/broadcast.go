package metrics

import "github.com/prometheus/client_golang/prometheus"

// BroadcastMetrics covers the channel registry, local fan-out and the
// cross-instance transport bridge.
type BroadcastMetrics struct {
	ActiveChannels     prometheus.Gauge
	Subscriptions      prometheus.Gauge
	Deliveries         prometheus.Counter
	DeliveryFailures   prometheus.Counter
	BroadcastDuration  prometheus.Histogram
	EventsPublished    *prometheus.CounterVec
	FanInTasks         prometheus.Gauge
	TransportPublishes *prometheus.CounterVec
	TransportReceived  prometheus.Counter
	DegradedMode       prometheus.Gauge
}

func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		ActiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "active_channels",
			Help:      "Channels with at least one local subscriber.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscriptions",
			Help:      "Connection registrations across all local channels.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Messages handed to a connection successfully.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "delivery_failures_total",
			Help:      "Per-connection delivery failures; each one deregisters the connection.",
		}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "channel_broadcast_duration_seconds",
			Help:      "Time to fan one message out to a channel's local subscribers.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "events_published_total",
			Help:      "Events published by business logic, by event type.",
		}, []string{"type"}),
		FanInTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanin",
			Name:      "tasks",
			Help:      "Live transport subscription tasks.",
		}),
		TransportPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanin",
			Name:      "publishes_total",
			Help:      "Publish attempts by outcome (transport, fallback, local).",
		}, []string{"result"}),
		TransportReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanin",
			Name:      "received_total",
			Help:      "Messages received from the transport.",
		}),
		DegradedMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanin",
			Name:      "degraded",
			Help:      "1 while running without a transport (local delivery only).",
		}),
	}

	reg.MustRegister(m.ActiveChannels, m.Subscriptions, m.Deliveries, m.DeliveryFailures, m.BroadcastDuration,
		m.EventsPublished, m.FanInTasks, m.TransportPublishes, m.TransportReceived, m.DegradedMode)
	return m
}
