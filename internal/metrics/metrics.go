package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	VersionsAppended = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "dochub", Name: "versions_appended_total", Help: "Number of document versions committed."},
	)
	DURTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dochub", Name: "dur_transitions_total", Help: "Number of DUR review actions by resulting status or error kind."},
		[]string{"action", "outcome"},
	)
	StaleMerges = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "dochub", Name: "stale_merges_total", Help: "Number of DURs merged after their document moved past the base version."},
	)
	PublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dochub", Name: "publish_failures_total", Help: "Number of failed version publications by sink."},
		[]string{"sink"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dochub", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dochub", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "dochub", Name: "http_request_duration_seconds", Help: "HTTP request latency by route and status.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route", "status"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(VersionsAppended)
	reg.MustRegister(DURTransitions)
	reg.MustRegister(StaleMerges)
	reg.MustRegister(PublishFailures)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(HTTPRequestDuration)
}
