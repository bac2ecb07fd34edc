package task

import (
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// Reporter 接收被放弃的任务（重试耗尽或超时）
type Reporter interface {
	Abandoned(t Task, err error)
}

// LogReporter 记录到日志
type LogReporter struct{}

func (LogReporter) Abandoned(t Task, err error) {
	logger.Error("task abandoned",
		zap.String("task", t.Name),
		zap.String("routing_key", t.Options.RoutingKey),
		zap.Duration("since_enqueue", timeSince(t.EnqueuedAt)),
		zap.Int("payload_bytes", len(t.Payload)),
		zap.Error(err))
}

// SentryReporter 上报到 Sentry（需先 sentry.Init）
type SentryReporter struct{}

func (SentryReporter) Abandoned(t Task, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("task", t.Name)
		scope.SetTag("routing_key", t.Options.RoutingKey)
		scope.SetContext("task", sentry.Context{
			"enqueued_at":   t.EnqueuedAt,
			"time_limit":    t.Options.TimeLimit.String(),
			"payload_bytes": len(t.Payload),
		})
		sentry.CaptureException(err)
	})
}

// Reporters 依次通知多个 Reporter
type Reporters []Reporter

func (rs Reporters) Abandoned(t Task, err error) {
	for _, r := range rs {
		r.Abandoned(t, err)
	}
}
