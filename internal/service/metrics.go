package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/d60-Lab/newsfeed/internal/service")

var (
	fanoutPosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Name:      "fanout_posts_total",
		Help:      "Posts handed to the fan-out queue by outcome (scheduled, schedule_failed).",
	}, []string{"outcome"})

	fanoutBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Name:      "fanout_batches_total",
		Help:      "Fan-out batch jobs by outcome (scheduled, schedule_failed, cache_stale, done).",
	}, []string{"outcome"})

	fanoutEntries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Name:      "fanout_entries_inserted_total",
		Help:      "Timeline entries inserted by fan-out batches.",
	})

	feedFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Name:      "list_store_fallbacks_total",
		Help:      "Paged reads that went to the store because the cached window could be incomplete.",
	}, []string{"list"})
)
