package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_upstream_requests_total",
		Help: "Total number of upstream calls by provider, method and outcome",
	}, []string{"provider", "method", "code"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_upstream_retries_total",
		Help: "Total number of transient retries issued",
	}, []string{"provider"})

	authRefreshRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempmail_upstream_auth_refresh_retries_total",
		Help: "Total number of requests reissued after a token refresh",
	}, []string{"provider", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tempmail_upstream_request_duration_seconds",
		Help:    "Upstream call latency including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)
