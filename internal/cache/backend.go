package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// ErrMiss key 不存在
var ErrMiss = errors.New("cache miss")

const (
	// generationTTL 需要远大于一次回源的耗时
	generationTTL = 48 * time.Hour

	defaultLoadTimeout = 10 * time.Second
)

// 仅当代数未变化时写入：回源期间发生过失效则放弃回填
var setIfGenerationScript = redis.NewScript(`
local g = redis.call('GET', KEYS[2]) or ''
if g ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

var invalidateScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return 1
`)

// Backend 封装 Redis：熔断、回源合并、按代数保护的回填与失效。
// 缓存只是加速层，任何错误都由调用方回退到存储。
type Backend struct {
	client      redis.UniversalClient
	breaker     *gobreaker.CircuitBreaker[struct{}]
	group       singleflight.Group
	loadTimeout time.Duration
}

// Option 配置 Backend
type Option func(*gobreaker.Settings, *Backend)

// WithBreaker 调整熔断参数：连续失败 failures 次后打开，openFor 后半开探测
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(st *gobreaker.Settings, _ *Backend) {
		st.Timeout = openFor
		st.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= failures }
	}
}

// WithLoadTimeout 回源超时；回源与首个调用方的取消信号脱钩
func WithLoadTimeout(d time.Duration) Option {
	return func(_ *gobreaker.Settings, b *Backend) { b.loadTimeout = d }
}

func NewBackend(client redis.UniversalClient, opts ...Option) *Backend {
	b := &Backend{client: client, loadTimeout: defaultLoadTimeout}
	st := gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	for _, opt := range opts {
		opt(&st, b)
	}
	b.breaker = gobreaker.NewCircuitBreaker[struct{}](st)
	return b
}

// Client 底层客户端
func (b *Backend) Client() redis.UniversalClient { return b.client }

func (b *Backend) do(fn func() error) error {
	_, err := b.breaker.Execute(func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.do(func() error {
		var err error
		data, err = b.client.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.do(func() error { return b.client.Set(ctx, key, value, ttl).Err() })
}

// Invalidate 删除 key 并推进其代数，正在进行的回源不会再写回旧值
func (b *Backend) Invalidate(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		err := b.do(func() error {
			return invalidateScript.Run(ctx, b.client,
				[]string{key, generationKey(key)}, generationTTL.Milliseconds()).Err()
		})
		if err != nil {
			return fmt.Errorf("invalidate %s: %w", key, err)
		}
	}
	return nil
}

// generation 读取 key 当前代数，不存在时为空串
func (b *Backend) generation(ctx context.Context, key string) (string, error) {
	var gen string
	err := b.do(func() error {
		var err error
		gen, err = b.client.Get(ctx, generationKey(key)).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

func (b *Backend) setIfGeneration(ctx context.Context, key, gen string, value []byte, ttl time.Duration) (bool, error) {
	var n int64
	err := b.do(func() error {
		var err error
		n, err = setIfGenerationScript.Run(ctx, b.client,
			[]string{key, generationKey(key)}, gen, value, ttl.Milliseconds()).Int64()
		return err
	})
	return n == 1, err
}

// LoadFunc 回源函数。返回 nil 数据表示实体不存在，不写缓存。
type LoadFunc func(ctx context.Context) ([]byte, error)

// GetOrCompute 读穿：命中直接返回；未命中时同 key 只回源一次，并在代数未变时回填。
// Redis 不可用时直接回源，不返回缓存错误。
func (b *Backend) GetOrCompute(ctx context.Context, kind Kind, key string, ttl time.Duration, load LoadFunc) ([]byte, Source, error) {
	data, err := b.Get(ctx, key)
	switch {
	case err == nil:
		observe(kind, resultHit)
		return data, SourceCache, nil
	case !errors.Is(err, ErrMiss):
		observe(kind, resultError)
		logger.Warn("cache unavailable, loading from store", zap.String("key", key), zap.Error(err))
		data, err = load(ctx)
		return data, SourceStore, err
	}
	observe(kind, resultMiss)

	v, err, _ := b.group.Do(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.loadTimeout)
		defer cancel()

		gen, genErr := b.generation(loadCtx, key)
		data, err := load(loadCtx)
		if err != nil || data == nil {
			return data, err
		}
		if genErr != nil {
			return data, nil
		}
		if _, err := b.setIfGeneration(loadCtx, key, gen, data, ttl); err != nil {
			logger.Warn("cache fill failed", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})
	if err != nil {
		return nil, SourceStore, err
	}
	data, _ = v.([]byte)
	return data, SourceStore, nil
}
