package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	retry "github.com/avast/retry-go/v5"
)

var (
	ErrQueueClosed = errors.New("task queue closed")
	ErrNoHandler   = errors.New("no handler registered for task")
)

// DefaultRoutingKey 未知 routing key 的任务进入默认队列
const DefaultRoutingKey = "default"

// Options 调度参数
type Options struct {
	// TimeLimit 含全部重试在内的总时限；0 使用池的默认值
	TimeLimit  time.Duration
	RoutingKey string
}

// Task 一次异步任务。Payload 必须是可独立序列化的纯数据（id 等），不能引用进程内对象。
type Task struct {
	Name       string
	Payload    []byte
	Options    Options
	EnqueuedAt time.Time
}

// Scheduler 调度方只关心投递，不等待执行结果（at-least-once）
type Scheduler interface {
	Schedule(ctx context.Context, name string, payload any, opts Options) error
}

// Handler 处理任务；必须幂等，可能被重试
type Handler func(ctx context.Context, payload []byte) error

// Permanent 标记不可重试的错误（如引用的数据已不存在）
func Permanent(err error) error { return retry.Unrecoverable(err) }

// IsPermanent 判断错误是否被标记为不可重试
func IsPermanent(err error) bool { return err != nil && !retry.IsRecoverable(err) }

func newTask(name string, payload any, opts Options) (Task, error) {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return Task{}, err
		}
	}
	if opts.RoutingKey == "" {
		opts.RoutingKey = DefaultRoutingKey
	}
	return Task{Name: name, Payload: data, Options: opts, EnqueuedAt: time.Now()}, nil
}
