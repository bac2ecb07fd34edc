package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// GraphCache 关系链缓存。
// 关注集合按用户缓存，用于 O(1) 判断"是否已关注"；粉丝列表只用于扇出，每次查库保证是调用时刻的关系。
type GraphCache struct {
	backend *cache.Backend
	follows repository.FollowRepository
	ttl     time.Duration
}

func NewGraphCache(backend *cache.Backend, follows repository.FollowRepository, ttl time.Duration) *GraphCache {
	return &GraphCache{backend: backend, follows: follows, ttl: ttl}
}

// FollowingIDs userID 关注的全部用户 id
func (g *GraphCache) FollowingIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	key := cache.Key(cache.KindFollowing, userID)
	data, _, err := g.backend.GetOrCompute(ctx, cache.KindFollowing, key, g.ttl, func(ctx context.Context) ([]byte, error) {
		ids, err := g.follows.ListFollowingIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(ids)
	})
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		logger.Warn("drop undecodable following set", zap.String("key", key), zap.Error(err))
		if err := g.backend.Invalidate(ctx, key); err != nil {
			logger.Warn("invalidate following set failed", zap.String("key", key), zap.Error(err))
		}
		if ids, err = g.follows.ListFollowingIDs(ctx, userID); err != nil {
			return nil, err
		}
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// FollowerIDs userID 的全部粉丝 id，按关注时间倒序
func (g *GraphCache) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	return g.follows.ListFollowerIDs(ctx, userID)
}

// InvalidateFollowing 关注关系变更后必须调用
func (g *GraphCache) InvalidateFollowing(ctx context.Context, userID string) error {
	return g.backend.Invalidate(ctx, cache.Key(cache.KindFollowing, userID))
}
