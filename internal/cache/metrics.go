package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)

var lookupCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "newsfeed",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Cache lookups by entity kind and result (hit, miss, error).",
}, []string{"kind", "result"})

func observe(kind Kind, result string) {
	lookupCounter.WithLabelValues(string(kind), result).Inc()
}
