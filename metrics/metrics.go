package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedrefresh"

var (
	FeedRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_refresh_total",
		Help:      "Single-feed refresh jobs by outcome.",
	}, []string{"outcome"})

	PostsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_merged_total",
		Help:      "Posts merged into the store by action.",
	}, []string{"action"})

	DuplicateAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_anomalies_total",
		Help:      "Upserts that found several rows for a key expected to be unique.",
	})

	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_contention_total",
		Help:      "Feed lock acquisitions refused because the lock was held.",
	})

	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Dispatched jobs by routing key and outcome.",
	}, []string{"routing_key", "outcome"})

	DueFeeds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "due_feeds",
		Help:      "Feeds due for refresh at the start of the last cycle.",
	})
)
