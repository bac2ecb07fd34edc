package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// ObjectLoader 按 id 从存储加载实体；不存在时返回 (nil, nil)
type ObjectLoader[T any] func(ctx context.Context, id string) (*T, error)

// ObjectCache 按 id 读穿缓存单个实体，用于回填外键引用（如 post 的作者）。
// 修改实体的一方负责调用 Evict。
type ObjectCache[T any] struct {
	backend *Backend
	kind    Kind
	ttl     time.Duration
	load    ObjectLoader[T]
}

func NewObjectCache[T any](backend *Backend, kind Kind, ttl time.Duration, load ObjectLoader[T]) *ObjectCache[T] {
	return &ObjectCache[T]{backend: backend, kind: kind, ttl: ttl, load: load}
}

// Get 返回实体视图；实体不存在时返回 Found() == false 的视图而不是错误
func (c *ObjectCache[T]) Get(ctx context.Context, id string) (View[T], error) {
	key := Key(c.kind, id)
	data, src, err := c.backend.GetOrCompute(ctx, c.kind, key, c.ttl, func(ctx context.Context) ([]byte, error) {
		v, err := c.load(ctx, id)
		if err != nil || v == nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return View[T]{}, err
	}
	if data == nil {
		return Absent[T](), nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		// 缓存里的旧格式数据：丢弃后直接读存储
		logger.Warn("drop undecodable cache entry", zap.String("key", key), zap.Error(err))
		if err := c.backend.Invalidate(ctx, key); err != nil {
			logger.Warn("invalidate cache entry failed", zap.String("key", key), zap.Error(err))
		}
		fresh, err := c.load(ctx, id)
		if err != nil || fresh == nil {
			return Absent[T](), err
		}
		return LiveView(fresh), nil
	}
	if src == SourceCache {
		return CachedView(&v), nil
	}
	return LiveView(&v), nil
}

// GetMany 批量回填，结果按 id 索引；不存在的 id 不出现在结果中。
// 先 MGET 一次取命中部分，未命中的逐个读穿。
func (c *ObjectCache[T]) GetMany(ctx context.Context, ids []string) (map[string]View[T], error) {
	out := make(map[string]View[T], len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key(c.kind, id)
	}
	var vals []any
	err := c.backend.do(func() error {
		var err error
		vals, err = c.backend.client.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		observe(c.kind, resultError)
		vals = nil
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var obj T
		if json.Unmarshal([]byte(str), &obj) == nil {
			observe(c.kind, resultHit)
			out[ids[i]] = CachedView(&obj)
		}
	}

	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		v, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if v.Found() {
			out[id] = v
		}
	}
	return out, nil
}

// Evict 实体被修改或删除后调用
func (c *ObjectCache[T]) Evict(ctx context.Context, id string) error {
	return c.backend.Invalidate(ctx, Key(c.kind, id))
}
