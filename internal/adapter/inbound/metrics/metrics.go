// Package metrics holds the Prometheus metrics exposed by santa-core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for santa-core. Pass to components
// that need to record them.
type Metrics struct {
	LookupsTotal          *prometheus.CounterVec
	RuleCountByKind       *prometheus.GaugeVec
	CacheFlushesTotal     prometheus.Counter
	WatchItemReloadsTotal *prometheus.CounterVec
	PendingEventsGauge    prometheus.Gauge
	PruneDeletedTotal     prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		LookupsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "santa_core",
				Name:      "lookups_total",
				Help:      "Total execution-rule lookups, by matched identifier kind",
			},
			[]string{"kind"},
		),
		RuleCountByKind: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "santa_core",
				Name:      "rules",
				Help:      "Current stored rule count, by kind",
			},
			[]string{"kind"},
		),
		CacheFlushesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "santa_core",
				Name:      "decision_cache_flushes_total",
				Help:      "Total upserts that required a decision cache flush",
			},
		),
		WatchItemReloadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "santa_core",
				Name:      "watch_item_reloads_total",
				Help:      "Total watch-item configuration reloads, by outcome",
			},
			[]string{"outcome"}, // outcome=ok/error
		),
		PendingEventsGauge: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "santa_core",
				Name:      "pending_events",
				Help:      "Current number of audit events awaiting upstream sync",
			},
		),
		PruneDeletedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "santa_core",
				Name:      "stale_transitive_pruned_total",
				Help:      "Total stale AllowTransitive/AllowPendingTransitive rules pruned",
			},
		),
	}
}
