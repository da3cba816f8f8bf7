package servicenow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transport metrics, registered on the default registry. They are only
// scraped when the server runs in SSE mode with --metrics-addr set;
// in stdio mode they cost one atomic add per attempt.
var (
	attemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "servicenow_client_attempts_total",
		Help: "Physical HTTP attempts issued against the instance, including retries.",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "servicenow_client_retries_total",
		Help: "Attempts that were retried after a transient failure.",
	})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "servicenow_client_failures_total",
		Help: "Logical requests that surfaced a typed error, by kind.",
	}, []string{"kind"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "servicenow_client_request_duration_seconds",
		Help:    "Duration of logical requests, including retry backoff.",
		Buckets: prometheus.DefBuckets,
	})
)
