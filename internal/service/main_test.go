package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/task"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	db      *gorm.DB
	mr      *miniredis.Miniredis
	backend *cache.Backend

	users    repository.UserRepository
	follows  repository.FollowRepository
	posts    repository.PostRepository
	timeline repository.TimelineRepository

	userCache *cache.ObjectCache[model.User]
	postCache *cache.ObjectCache[model.Post]
	graph     *GraphCache
	feeds     *TimelineCache
	postLists *PostListCache

	tasks     *task.Recorder
	fanout    *FanoutCoordinator
	publisher *Publisher
	rel       RelationshipService
	feed      FeedService
}

type envOptions struct {
	listLimit int
	batchSize int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.listLimit == 0 {
		opts.listLimit = 200
	}
	if opts.batchSize == 0 {
		opts.batchSize = DefaultFanoutBatchSize
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Post{}, &model.Follow{}, &model.TimelineEntry{}))
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	backend := cache.NewBackend(client, cache.WithBreaker(100, time.Minute), cache.WithLoadTimeout(time.Second))

	e := &testEnv{
		db:       db,
		mr:       mr,
		backend:  backend,
		users:    repository.NewUserRepository(db),
		follows:  repository.NewFollowRepository(db),
		posts:    repository.NewPostRepository(db),
		timeline: repository.NewTimelineRepository(db),
		tasks:    &task.Recorder{},
	}
	e.userCache = cache.NewObjectCache[model.User](backend, cache.KindUser, time.Hour, e.users.GetByID)
	e.postCache = cache.NewObjectCache[model.Post](backend, cache.KindPost, time.Hour, e.posts.GetByID)
	e.graph = NewGraphCache(backend, e.follows, time.Hour)
	e.feeds = NewTimelineCache(backend, e.timeline, opts.listLimit, time.Hour)
	e.postLists = NewPostListCache(backend, e.posts, opts.listLimit, time.Hour)
	e.fanout = NewFanoutCoordinator(e.posts, e.timeline, e.graph, e.feeds, e.tasks,
		FanoutConfig{BatchSize: opts.batchSize, TimeLimit: time.Minute})
	e.publisher = NewPublisher(e.posts, e.userCache, e.postLists, e.fanout)
	e.rel = NewRelationshipService(db, e.follows, e.graph, e.userCache)
	e.feed = NewFeedService(e.feeds, e.postLists, e.timeline, e.posts, e.postCache, e.userCache)
	return e
}

func (e *testEnv) addUser(t *testing.T, id string) *model.User {
	t.Helper()
	u := &model.User{ID: id, Username: id, Email: id + "@example.com"}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

// seedPost 直接写库，时间可控
func (e *testEnv) seedPost(t *testing.T, authorID string, at time.Time) *model.Post {
	t.Helper()
	p := &model.Post{ID: uuid.New().String(), AuthorID: authorID, Content: fmt.Sprintf("at %s", at), CreatedAt: at, UpdatedAt: at}
	require.NoError(t, e.db.Create(p).Error)
	return p
}

// seedFeed 给 owner 写 n 条时间线，第 i 条时间为 t0+i 秒
func (e *testEnv) seedFeed(t *testing.T, ownerID, authorID string, n int) []*model.Post {
	t.Helper()
	out := make([]*model.Post, n)
	for i := 0; i < n; i++ {
		p := e.seedPost(t, authorID, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, e.timeline.Create(context.Background(),
			&model.TimelineEntry{UserID: ownerID, PostID: p.ID, CreatedAt: p.CreatedAt}))
		out[i] = p
	}
	return out
}

// runFanout 依次执行记录下的 fanout.post 和它投递的批任务
func (e *testEnv) runFanout(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.tasks.Run(ctx, TaskFanoutPost, e.fanout.HandlePost))
	require.NoError(t, e.tasks.Run(ctx, TaskFanoutBatch, e.fanout.HandleBatch))
}

// pendingTasks 记录中名为 name 的任务
func (e *testEnv) pendingTasks(name string) []task.Task {
	var out []task.Task
	for _, tk := range e.tasks.Tasks() {
		if tk.Name == name {
			out = append(out, tk)
		}
	}
	return out
}

func feedPostIDs(items []FeedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Post.ID
	}
	return out
}
