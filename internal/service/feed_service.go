package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// FeedItem 渲染后的一条 feed
type FeedItem struct {
	Post        *model.Post `json:"post"`
	Author      *model.User `json:"author"`
	CreatedAt   time.Time   `json:"created_at"`
	HasFollowed bool        `json:"has_followed"`
}

// FeedService 时间线与个人主页读取
type FeedService interface {
	// ListFeed userID 的首页时间线
	ListFeed(ctx context.Context, viewer *Viewer, userID string, p pagination.Params) (pagination.Page[FeedItem], error)
	// ListUserPosts userID 自己发布的 post
	ListUserPosts(ctx context.Context, viewer *Viewer, userID string, p pagination.Params) (pagination.Page[FeedItem], error)
}

type feedService struct {
	feeds     *TimelineCache
	postLists *PostListCache
	timeline  repository.TimelineRepository
	posts     repository.PostRepository
	postCache *cache.ObjectCache[model.Post]
	users     *cache.ObjectCache[model.User]
}

func NewFeedService(
	feeds *TimelineCache,
	postLists *PostListCache,
	timeline repository.TimelineRepository,
	posts repository.PostRepository,
	postCache *cache.ObjectCache[model.Post],
	users *cache.ObjectCache[model.User],
) FeedService {
	return &feedService{
		feeds:     feeds,
		postLists: postLists,
		timeline:  timeline,
		posts:     posts,
		postCache: postCache,
		users:     users,
	}
}

func (s *feedService) ListFeed(ctx context.Context, viewer *Viewer, userID string, p pagination.Params) (pagination.Page[FeedItem], error) {
	window, _, err := s.feeds.LoadCachedFeed(ctx, userID)
	if err != nil {
		return pagination.Page[FeedItem]{}, err
	}
	store := pagination.QuerySource[cache.Entry](func(ctx context.Context, f pagination.Filter) ([]cache.Entry, error) {
		rows, err := s.timeline.ListByUser(ctx, userID, f)
		if err != nil {
			return nil, err
		}
		return timelineEntries(rows), nil
	})
	page, err := paginateWindow(ctx, "feed", window, s.feeds.Limit(), store, p)
	if err != nil {
		return pagination.Page[FeedItem]{}, err
	}
	return s.hydrate(ctx, viewer, page)
}

func (s *feedService) ListUserPosts(ctx context.Context, viewer *Viewer, userID string, p pagination.Params) (pagination.Page[FeedItem], error) {
	window, _, err := s.postLists.LoadCachedPosts(ctx, userID)
	if err != nil {
		return pagination.Page[FeedItem]{}, err
	}
	store := pagination.QuerySource[cache.Entry](func(ctx context.Context, f pagination.Filter) ([]cache.Entry, error) {
		rows, err := s.posts.ListByAuthor(ctx, userID, f)
		if err != nil {
			return nil, err
		}
		out := make([]cache.Entry, len(rows))
		for i, r := range rows {
			out[i] = cache.Entry{ID: r.ID, At: r.CreatedAt}
		}
		return out, nil
	})
	page, err := paginateWindow(ctx, "posts", window, s.postLists.Limit(), store, p)
	if err != nil {
		return pagination.Page[FeedItem]{}, err
	}
	return s.hydrate(ctx, viewer, page)
}

// paginateWindow 先在缓存窗口上翻页，窗口可能不完整时改查存储
func paginateWindow(
	ctx context.Context,
	name string,
	window []cache.Entry,
	limit int,
	store pagination.Source[cache.Entry],
	p pagination.Params,
) (pagination.Page[cache.Entry], error) {
	page, err := pagination.Paginate(ctx, pagination.SliceSource[cache.Entry](window), p)
	if err != nil {
		return page, err
	}
	if !windowMayBeIncomplete(window, limit, page, p) {
		return page, nil
	}
	feedFallbacks.WithLabelValues(name).Inc()
	return pagination.Paginate(ctx, store, p)
}

// windowMayBeIncomplete 缓存只保存最新 limit 条。窗口未满说明就是全部数据；
// 窗口满了但这一页已经翻到窗口底部，更早的数据只在存储里。
func windowMayBeIncomplete(window []cache.Entry, limit int, page pagination.Page[cache.Entry], p pagination.Params) bool {
	if len(window) < limit {
		return false
	}
	if p.Refresh() {
		// 刷新要返回游标之后的全部数据：窗口最旧一条仍比游标新，中间可能有缺口
		return window[len(window)-1].At.After(*p.After)
	}
	return !page.HasMore
}

// hydrate 批量回填 post 与作者；post 已被删除的项跳过
func (s *feedService) hydrate(ctx context.Context, viewer *Viewer, page pagination.Page[cache.Entry]) (pagination.Page[FeedItem], error) {
	postIDs := make([]string, len(page.Items))
	for i, e := range page.Items {
		postIDs[i] = e.ID
	}
	posts, err := s.postCache.GetMany(ctx, postIDs)
	if err != nil {
		return pagination.Page[FeedItem]{}, err
	}

	authorIDs := make([]string, 0, len(posts))
	seen := make(map[string]struct{}, len(posts))
	for _, v := range posts {
		id := v.Value().AuthorID
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			authorIDs = append(authorIDs, id)
		}
	}
	authors, err := s.users.GetMany(ctx, authorIDs)
	if err != nil {
		return pagination.Page[FeedItem]{}, err
	}

	out := pagination.Page[FeedItem]{Items: make([]FeedItem, 0, len(page.Items)), HasMore: page.HasMore}
	for _, e := range page.Items {
		post, ok := posts[e.ID]
		if !ok {
			logger.Debug("skip feed entry of missing post", zap.String("post_id", e.ID))
			continue
		}
		item := FeedItem{Post: post.Value(), CreatedAt: e.At}
		if author, ok := authors[item.Post.AuthorID]; ok {
			item.Author = author.Value()
		}
		if item.HasFollowed, err = viewer.HasFollowed(ctx, item.Post.AuthorID); err != nil {
			return pagination.Page[FeedItem]{}, err
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}
