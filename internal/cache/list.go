package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// sentinelMember 以 -inf 分数常驻有序集合底部，标记该 key 已加载（空列表也可缓存）
const sentinelMember = "#loaded"

// Entry 有序列表中的一项：id + 创建时间（微秒精度作为 score）
type Entry struct {
	ID string
	At time.Time
}

func (e Entry) Timestamp() time.Time { return e.At }

func score(t time.Time) string { return strconv.FormatInt(t.UnixMicro(), 10) }

// 仅当 key 仍不存在且代数未变化时回填
var fillListScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local g = redis.call('GET', KEYS[2]) or ''
if g ~= ARGV[1] then
  return 0
end
redis.call('ZADD', KEYS[1], '-inf', ARGV[3])
for i = 4, #ARGV, 2 do
  redis.call('ZADD', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// key 存在时插入并裁剪到最新 limit 项；不存在时只推进代数，让并发回填作废
var pushListScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('INCR', KEYS[2])
  redis.call('PEXPIRE', KEYS[2], ARGV[4])
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
local n = redis.call('ZCARD', KEYS[1]) - 1
local limit = tonumber(ARGV[3])
if n > limit then
  redis.call('ZREMRANGEBYRANK', KEYS[1], 1, n - limit)
end
return 1
`)

// ListLoader 从存储按时间倒序读取 owner 最新的 limit 项
type ListLoader func(ctx context.Context, ownerID string, limit int) ([]Entry, error)

// OrderedList 每个 owner 一个有界、按时间倒序的 id 列表。
// 若缓存中有 K 项，则恰好是存储中最新的 K 项，没有空洞。
type OrderedList struct {
	backend *Backend
	kind    Kind
	limit   int
	ttl     time.Duration
}

func NewOrderedList(backend *Backend, kind Kind, limit int, ttl time.Duration) *OrderedList {
	return &OrderedList{backend: backend, kind: kind, limit: limit, ttl: ttl}
}

// Limit 缓存列表的最大长度
func (l *OrderedList) Limit() int { return l.limit }

// Load 读穿：命中返回缓存列表，否则从存储加载最新 limit 项并回填
func (l *OrderedList) Load(ctx context.Context, ownerID string, load ListLoader) ([]Entry, Source, error) {
	key := Key(l.kind, ownerID)
	entries, ok, err := l.read(ctx, key)
	switch {
	case err != nil:
		observe(l.kind, resultError)
		logger.Warn("list cache unavailable, loading from store", zap.String("key", key), zap.Error(err))
		entries, err = load(ctx, ownerID, l.limit)
		return entries, SourceStore, err
	case ok:
		observe(l.kind, resultHit)
		return entries, SourceCache, nil
	}
	observe(l.kind, resultMiss)

	v, err, _ := l.backend.group.Do("list:"+key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.backend.loadTimeout)
		defer cancel()

		gen, genErr := l.backend.generation(loadCtx, key)
		entries, err := load(loadCtx, ownerID, l.limit)
		if err != nil {
			return nil, err
		}
		if genErr == nil {
			if err := l.fill(loadCtx, key, gen, entries); err != nil {
				logger.Warn("list cache fill failed", zap.String("key", key), zap.Error(err))
			}
		}
		return entries, nil
	})
	if err != nil {
		return nil, SourceStore, err
	}
	entries, _ = v.([]Entry)
	// singleflight 共享结果，调用方可能会修改
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, SourceStore, nil
}

// Push 增量写入一项。key 不存在时什么都不写，下次读取会从存储完整加载。
// 同一 id 重复写入是幂等的。
func (l *OrderedList) Push(ctx context.Context, ownerID string, e Entry) (bool, error) {
	key := Key(l.kind, ownerID)
	var n int64
	err := l.backend.do(func() error {
		var err error
		n, err = pushListScript.Run(ctx, l.backend.client,
			[]string{key, generationKey(key)},
			score(e.At), e.ID, l.limit, generationTTL.Milliseconds()).Int64()
		return err
	})
	return n == 1, err
}

// Invalidate 整体失效（写路径绕过了 Push 时使用）
func (l *OrderedList) Invalidate(ctx context.Context, ownerID string) error {
	return l.backend.Invalidate(ctx, Key(l.kind, ownerID))
}

func (l *OrderedList) read(ctx context.Context, key string) ([]Entry, bool, error) {
	var (
		exists  *redis.IntCmd
		members *redis.ZSliceCmd
	)
	err := l.backend.do(func() error {
		_, err := l.backend.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			exists = pipe.Exists(ctx, key)
			members = pipe.ZRevRangeWithScores(ctx, key, 0, -1)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if exists.Val() == 0 {
		return nil, false, nil
	}

	zs := members.Val()
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		if id == sentinelMember {
			continue
		}
		entries = append(entries, Entry{ID: id, At: time.UnixMicro(int64(z.Score)).UTC()})
	}
	return entries, true, nil
}

func (l *OrderedList) fill(ctx context.Context, key, gen string, entries []Entry) error {
	args := make([]any, 0, 3+2*len(entries))
	args = append(args, gen, l.ttl.Milliseconds(), sentinelMember)
	for _, e := range entries {
		args = append(args, score(e.At), e.ID)
	}
	return l.backend.do(func() error {
		return fillListScript.Run(ctx, l.backend.client, []string{key, generationKey(key)}, args...).Err()
	})
}
