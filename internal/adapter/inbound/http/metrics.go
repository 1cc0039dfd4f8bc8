// Package http provides the HTTP API adapter for the rule service.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for RuleGate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ParsesTotal     *prometheus.CounterVec
	DecisionsTotal  *prometheus.CounterVec
	RulesLoaded     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulegate",
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rulegate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"route"},
		),
		ParsesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulegate",
				Name:      "rule_parses_total",
				Help:      "Total rule parse attempts",
			},
			[]string{"outcome"}, // outcome=matched/unmatched
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulegate",
				Name:      "tool_decisions_total",
				Help:      "Total tool-call decisions",
			},
			[]string{"outcome"}, // outcome=allow/block/confirm
		),
		RulesLoaded: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rulegate",
				Name:      "rules_loaded",
				Help:      "Number of rules currently in the store",
			},
		),
	}
}
