// Package metrics holds the Prometheus collectors of the security pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // collectors are registered once per process
var (
	SecurityRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journalgate_security_rejections_total",
			Help: "Requests rejected by the security pipeline, by stage and error kind.",
		},
		[]string{"stage", "kind"},
	)

	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journalgate_rate_limit_decisions_total",
			Help: "Rate limiter decisions by keyspace and outcome.",
		},
		[]string{"scope", "outcome"},
	)

	RoleCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journalgate_role_cache_lookups_total",
			Help: "Role cache lookups by result (hit or miss).",
		},
		[]string{"result"},
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journalgate_token_refreshes_total",
			Help: "Access token refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)
)
