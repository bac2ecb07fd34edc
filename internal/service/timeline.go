package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// TimelineCache 每个用户 feed 最新 N 条的有序缓存
type TimelineCache struct {
	list     *cache.OrderedList
	timeline repository.TimelineRepository
}

func NewTimelineCache(backend *cache.Backend, timeline repository.TimelineRepository, limit int, ttl time.Duration) *TimelineCache {
	return &TimelineCache{
		list:     cache.NewOrderedList(backend, cache.KindFeed, limit, ttl),
		timeline: timeline,
	}
}

// Limit 缓存窗口大小，超出部分需要查库
func (c *TimelineCache) Limit() int { return c.list.Limit() }

// LoadCachedFeed 读穿：返回 userID 最新的至多 Limit 条 (post_id, created_at)
func (c *TimelineCache) LoadCachedFeed(ctx context.Context, userID string) ([]cache.Entry, cache.Source, error) {
	return c.list.Load(ctx, userID, func(ctx context.Context, userID string, limit int) ([]cache.Entry, error) {
		rows, err := c.timeline.ListByUser(ctx, userID, pagination.Filter{Limit: limit})
		if err != nil {
			return nil, err
		}
		return timelineEntries(rows), nil
	})
}

// PushEntry 把新写入的时间线项推进缓存；缓存里还没有该用户时不做任何事
func (c *TimelineCache) PushEntry(ctx context.Context, e *model.TimelineEntry) error {
	return pushOrDrop(ctx, c.list, e.UserID, cache.Entry{ID: e.PostID, At: e.CreatedAt})
}

// PostListCache 用户自己发布的 post 列表缓存，规则同 TimelineCache
type PostListCache struct {
	list  *cache.OrderedList
	posts repository.PostRepository
}

func NewPostListCache(backend *cache.Backend, posts repository.PostRepository, limit int, ttl time.Duration) *PostListCache {
	return &PostListCache{
		list:  cache.NewOrderedList(backend, cache.KindUserPosts, limit, ttl),
		posts: posts,
	}
}

func (c *PostListCache) Limit() int { return c.list.Limit() }

func (c *PostListCache) LoadCachedPosts(ctx context.Context, authorID string) ([]cache.Entry, cache.Source, error) {
	return c.list.Load(ctx, authorID, func(ctx context.Context, authorID string, limit int) ([]cache.Entry, error) {
		rows, err := c.posts.ListByAuthor(ctx, authorID, pagination.Filter{Limit: limit})
		if err != nil {
			return nil, err
		}
		out := make([]cache.Entry, len(rows))
		for i, p := range rows {
			out[i] = cache.Entry{ID: p.ID, At: p.CreatedAt}
		}
		return out, nil
	})
}

func (c *PostListCache) PushPost(ctx context.Context, p *model.Post) error {
	return pushOrDrop(ctx, c.list, p.AuthorID, cache.Entry{ID: p.ID, At: p.CreatedAt})
}

// pushOrDrop 推送失败时整体失效，避免缓存窗口出现空洞。
// 失效成功就算完成（下次读取从存储重建）；两者都失败才返回错误，缓存可能缺这一条。
func pushOrDrop(ctx context.Context, list *cache.OrderedList, ownerID string, e cache.Entry) error {
	_, err := list.Push(ctx, ownerID, e)
	if err == nil {
		return nil
	}
	invErr := list.Invalidate(ctx, ownerID)
	if invErr == nil {
		logger.Warn("list cache push failed, dropped",
			zap.String("owner", ownerID), zap.String("id", e.ID), zap.Error(err))
		return nil
	}
	return fmt.Errorf("push %s to %s: %w", e.ID, ownerID, errors.Join(err, invErr))
}

func timelineEntries(rows []*model.TimelineEntry) []cache.Entry {
	out := make([]cache.Entry, len(rows))
	for i, r := range rows {
		out[i] = cache.Entry{ID: r.PostID, At: r.CreatedAt}
	}
	return out
}
