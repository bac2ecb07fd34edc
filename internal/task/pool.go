package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// Config 任务池参数
type Config struct {
	// Queues routing key -> worker 数；总会包含 DefaultRoutingKey
	Queues      map[string]int
	QueueSize   int
	TimeLimit   time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// Pool 本地异步任务池：按 routing key 分队列，每个队列若干 worker。
// 任务在时限内按指数退避重试，超过时限或重试耗尽则放弃并上报。
type Pool struct {
	cfg      Config
	reporter Reporter

	hmu      sync.RWMutex
	handlers map[string]Handler

	mu       sync.RWMutex
	closed   bool
	started  bool
	queues   map[string]*queue
	stopping chan struct{}
	wg       sync.WaitGroup

	outstanding atomic.Int64 // 已收下但未执行完的任务数

	landed chan time.Duration // enqueue -> done 耗时
}

func NewPool(cfg Config, reporter Reporter) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	queues := make(map[string]int, len(cfg.Queues)+1)
	for k, n := range cfg.Queues {
		queues[k] = n
	}
	if _, ok := queues[DefaultRoutingKey]; !ok {
		queues[DefaultRoutingKey] = 2
	}
	cfg.Queues = queues
	if reporter == nil {
		reporter = LogReporter{}
	}

	p := &Pool{
		cfg:      cfg,
		reporter: reporter,
		handlers: make(map[string]Handler),
		queues:   make(map[string]*queue, len(queues)),
		stopping: make(chan struct{}),
		landed:   make(chan time.Duration, 65536),
	}
	for k := range queues {
		p.queues[k] = newQueue(k, cfg.QueueSize)
	}
	return p
}

// queue 一个 routing key 的队列。ch 满了的任务先进 pending，由 spill 协程按序补进 ch。
type queue struct {
	key string
	ch  chan Task

	mu      sync.Mutex
	pending []Task
	wake    chan struct{}
}

func newQueue(key string, size int) *queue {
	return &queue{key: key, ch: make(chan Task, size), wake: make(chan struct{}, 1)}
}

// offer 不阻塞：ch 有空位且没有积压时直接入队，否则挂到 pending
func (q *queue) offer(t Task) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		select {
		case q.ch <- t:
			q.mu.Unlock()
			return
		default:
		}
	}
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	overflowCounter.WithLabelValues(q.key).Inc()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) takePending() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

func (q *queue) pendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// spill 把 pending 补进 ch；stopping 后排空 pending 再关闭 ch
func (q *queue) spill(stopping <-chan struct{}) {
	for {
		select {
		case <-q.wake:
			for _, t := range q.takePending() {
				q.ch <- t
			}
		case <-stopping:
			for {
				batch := q.takePending()
				if len(batch) == 0 {
					break
				}
				for _, t := range batch {
					q.ch <- t
				}
			}
			close(q.ch)
			return
		}
	}
}

// Register 注册任务处理函数，需在 Start 之前调用
func (p *Pool) Register(name string, h Handler) {
	p.hmu.Lock()
	p.handlers[name] = h
	p.hmu.Unlock()
}

// Start 启动所有队列的 worker；返回停止函数，停止时不再接收新任务并等待队列排空
func (p *Pool) Start() func(context.Context) error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()

	for key, workers := range p.cfg.Queues {
		if workers <= 0 {
			workers = 1
		}
		q := p.queues[key]
		go q.spill(p.stopping)
		ch := q.ch
		for i := 0; i < workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				for t := range ch {
					p.run(t)
				}
			}()
		}
	}
	return p.Stop
}

// Stop 等到没有积压和在途任务后关闭入口，再等 worker 退出；ctx 到期则直接关闭入口并返回。
// 运行中的任务在此期间仍可以投递后续任务。
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()

	var idleErr error
	if started {
		idleErr = p.waitIdle(ctx)
	}

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if started {
			close(p.stopping)
		} else {
			for _, q := range p.queues {
				close(q.ch)
			}
		}
	}
	p.mu.Unlock()
	if idleErr != nil {
		return idleErr
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) waitIdle(ctx context.Context) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for p.outstanding.Load() > 0 {
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Schedule 投递任务，不阻塞调用方：队列满时任务进入溢出缓冲，由后台按序补进队列
func (p *Pool) Schedule(_ context.Context, name string, payload any, opts Options) error {
	t, err := newTask(name, payload, opts)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}
	q, ok := p.queues[t.Options.RoutingKey]
	if !ok {
		q = p.queues[DefaultRoutingKey]
	}
	p.outstanding.Add(1)
	q.offer(t)
	return nil
}

// Landed 返回任务完成耗时（入队到结束）的只读通道，满了丢弃采样
func (p *Pool) Landed() <-chan time.Duration { return p.landed }

// QueueLen 返回某个队列当前积压（含溢出缓冲，采样值）
func (p *Pool) QueueLen(routingKey string) int {
	q, ok := p.queues[routingKey]
	if !ok {
		return 0
	}
	return len(q.ch) + q.pendingLen()
}

func (p *Pool) run(t Task) {
	start := time.Now()
	defer func() {
		p.outstanding.Add(-1)
		runDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
		select {
		case p.landed <- timeSince(t.EnqueuedAt):
		default:
		}
	}()

	p.hmu.RLock()
	h := p.handlers[t.Name]
	p.hmu.RUnlock()
	if h == nil {
		runCounter.WithLabelValues(t.Name, outcomeAbandoned).Inc()
		p.reporter.Abandoned(t, fmt.Errorf("%w: %s", ErrNoHandler, t.Name))
		return
	}

	limit := t.Options.TimeLimit
	if limit <= 0 {
		limit = p.cfg.TimeLimit
	}
	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(p.cfg.MaxAttempts)),
		retry.Delay(p.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			runCounter.WithLabelValues(t.Name, outcomeRetry).Inc()
			logger.Warn("task attempt failed",
				zap.String("task", t.Name), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	).Do(func() error {
		return invoke(ctx, h, t.Payload)
	})
	if err != nil {
		runCounter.WithLabelValues(t.Name, outcomeAbandoned).Inc()
		p.reporter.Abandoned(t, err)
		return
	}
	runCounter.WithLabelValues(t.Name, outcomeSuccess).Inc()
}

// invoke 执行一次 handler；到达时限时不再等待它返回
func invoke(ctx context.Context, h Handler, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return retry.Unrecoverable(err)
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- retry.Unrecoverable(fmt.Errorf("task panic: %v", r))
			}
		}()
		done <- h(ctx, payload)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return retry.Unrecoverable(fmt.Errorf("time limit exceeded: %w", ctx.Err()))
	}
}
