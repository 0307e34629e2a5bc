package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Coordinator-level collectors, exposed on /metrics.
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "proctor",
		Name:      "active_sessions",
		Help:      "Number of exam sessions with at least one connected participant.",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "proctor",
		Name:      "active_connections",
		Help:      "Number of connected participant handles.",
	})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctor",
		Name:      "events_dispatched_total",
		Help:      "Inbound events dispatched to the session coordinator.",
	}, []string{"event"})

	WarningsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proctor",
		Name:      "warnings_issued_total",
		Help:      "Warnings issued to candidates, manual and automated.",
	})

	Disqualifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proctor",
		Name:      "disqualifications_total",
		Help:      "Candidates auto-disqualified on reaching the warning limit.",
	})

	SuspiciousDetections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proctor",
		Name:      "suspicious_detections_total",
		Help:      "Suspicious-activity classifications over rolling windows.",
	})

	SignalsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proctor",
		Name:      "signals_relayed_total",
		Help:      "WebRTC signaling payloads relayed between handles.",
	})

	PermanentDisconnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proctor",
		Name:      "permanent_disconnections_total",
		Help:      "Participants whose reconnection attempts were exhausted.",
	})
)
