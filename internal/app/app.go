package app

import (
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/internal/task"
)

// App 组装好的仓储、缓存与服务，供 server 和压测程序共用
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Cache  *cache.Backend
	Pool   *task.Pool

	Users    repository.UserRepository
	Follows  repository.FollowRepository
	Posts    repository.PostRepository
	Timeline repository.TimelineRepository

	UserCache *cache.ObjectCache[model.User]
	PostCache *cache.ObjectCache[model.Post]
	Graph     *service.GraphCache
	Feeds     *service.TimelineCache
	PostLists *service.PostListCache

	Fanout    *service.FanoutCoordinator
	Publisher *service.Publisher
	Relations service.RelationshipService
	Feed      service.FeedService
}

// New 按配置组装。任务池已注册好处理函数，由调用方 Start。
func New(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient, reporter task.Reporter) *App {
	a := &App{
		Config:   cfg,
		DB:       db,
		Cache:    cache.NewBackend(rdb),
		Users:    repository.NewUserRepository(db),
		Follows:  repository.NewFollowRepository(db),
		Posts:    repository.NewPostRepository(db),
		Timeline: repository.NewTimelineRepository(db),
	}
	a.Pool = task.NewPool(task.Config{
		Queues:      cfg.Tasks.Queues,
		QueueSize:   cfg.Tasks.QueueSize,
		TimeLimit:   cfg.Tasks.TimeLimit,
		MaxAttempts: cfg.Tasks.MaxAttempts,
		RetryDelay:  cfg.Tasks.RetryDelay,
	}, reporter)

	feed := cfg.Feed
	a.UserCache = cache.NewObjectCache[model.User](a.Cache, cache.KindUser, feed.ObjectTTL, a.Users.GetByID)
	a.PostCache = cache.NewObjectCache[model.Post](a.Cache, cache.KindPost, feed.ObjectTTL, a.Posts.GetByID)
	a.Graph = service.NewGraphCache(a.Cache, a.Follows, feed.CacheTTL)
	a.Feeds = service.NewTimelineCache(a.Cache, a.Timeline, feed.CacheListLimit, feed.CacheTTL)
	a.PostLists = service.NewPostListCache(a.Cache, a.Posts, feed.CacheListLimit, feed.CacheTTL)

	a.Fanout = service.NewFanoutCoordinator(a.Posts, a.Timeline, a.Graph, a.Feeds, a.Pool, service.FanoutConfig{
		BatchSize: feed.FanoutBatch,
		TimeLimit: cfg.Tasks.TimeLimit,
	})
	a.Fanout.Register(a.Pool)

	a.Publisher = service.NewPublisher(a.Posts, a.UserCache, a.PostLists, a.Fanout)
	a.Relations = service.NewRelationshipService(db, a.Follows, a.Graph, a.UserCache)
	a.Feed = service.NewFeedService(a.Feeds, a.PostLists, a.Timeline, a.Posts, a.PostCache, a.UserCache)
	return a
}

// Viewer 请求级的当前用户
func (a *App) Viewer(id string) *service.Viewer { return service.NewViewer(a.Graph, id) }
