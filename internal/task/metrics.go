package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess   = "success"
	outcomeRetry     = "retry"
	outcomeAbandoned = "abandoned"
)

var (
	runCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Subsystem: "task",
		Name:      "runs_total",
		Help:      "Task executions by task name and outcome.",
	}, []string{"task", "outcome"})

	overflowCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsfeed",
		Subsystem: "task",
		Name:      "overflow_total",
		Help:      "Tasks parked in the overflow buffer because the queue was full.",
	}, []string{"queue"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "newsfeed",
		Subsystem: "task",
		Name:      "run_duration_seconds",
		Help:      "Wall time from dequeue to completion, retries included.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
	}, []string{"task"})
)

func timeSince(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return time.Since(t)
}
