package task

import (
	"context"
	"errors"
	"sync"
)

// Recorder 只记录不执行的 Scheduler，测试和压测里用来检查投递内容并手动执行
type Recorder struct {
	mu    sync.Mutex
	tasks []Task
	// Err 非空时 Schedule 直接返回该错误
	Err error
}

func (r *Recorder) Schedule(_ context.Context, name string, payload any, opts Options) error {
	if r.Err != nil {
		return r.Err
	}
	t, err := newTask(name, payload, opts)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	return nil
}

// Tasks 已记录任务的副本
func (r *Recorder) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Task(nil), r.tasks...)
}

// Run 取出所有名为 name 的任务并依次执行，返回合并后的错误
func (r *Recorder) Run(ctx context.Context, name string, h Handler) error {
	r.mu.Lock()
	var run, keep []Task
	for _, t := range r.tasks {
		if t.Name == name {
			run = append(run, t)
		} else {
			keep = append(keep, t)
		}
	}
	r.tasks = keep
	r.mu.Unlock()

	var errs []error
	for _, t := range run {
		if err := h(ctx, t.Payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
