package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine lifecycle metrics
	EngineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xnode_engine_state",
			Help: "Current engine state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	EngineStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xnode_engine_starts_total",
			Help: "Start requests by outcome (started, skipped, failed, rejected)",
		},
		[]string{"outcome"},
	)

	EngineStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xnode_engine_start_duration_seconds",
			Help:    "Time taken by start requests that restarted the engine",
			Buckets: prometheus.DefBuckets,
		},
	)

	HealthProbeAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xnode_health_probe_attempts",
			Help:    "Health probe attempts needed after an engine restart",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	// User mutation metrics
	UserMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xnode_user_mutations_total",
			Help: "User mutation requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Source address block rules
	IPRulesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xnode_ip_rules_total",
			Help: "IP block and unblock requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Tracked state metrics
	TrackedInbounds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xnode_tracked_inbounds",
			Help: "Number of inbounds tracked by the state store",
		},
	)

	TrackedUsers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xnode_tracked_users",
			Help: "Number of users tracked per inbound",
		},
		[]string{"inbound"},
	)
)

func init() {
	prometheus.MustRegister(EngineState)
	prometheus.MustRegister(EngineStartsTotal)
	prometheus.MustRegister(EngineStartDuration)
	prometheus.MustRegister(HealthProbeAttempts)
	prometheus.MustRegister(UserMutationsTotal)
	prometheus.MustRegister(IPRulesTotal)
	prometheus.MustRegister(TrackedInbounds)
	prometheus.MustRegister(TrackedUsers)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
