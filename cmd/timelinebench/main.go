package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/app"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/pkg/database"
	"github.com/d60-Lab/newsfeed/pkg/redisx"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func mean(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	cfg.Database.AutoMigrate = true

	// params: N 为作者粉丝数，POSTS 为发帖数
	n := envInt("N", 20000)
	posts := envInt("POSTS", 100)
	cfg.Tasks.Queues = map[string]int{"fanout": envInt("WORKERS", 8)}
	cfg.Feed.FanoutBatch = envInt("BATCH", cfg.Feed.FanoutBatch)

	db := must(database.InitDB(cfg))
	rdb := must(redisx.NewClient(ctx, cfg.Redis))
	defer rdb.Close()
	a := app.New(cfg, db, rdb, nil)

	// clean tables for a reproducible run (ok for local bench)
	_ = db.Exec("DELETE FROM timeline_entries").Error
	_ = db.Exec("DELETE FROM posts").Error
	_ = db.Exec("DELETE FROM follows").Error
	_ = db.Exec("DELETE FROM users").Error
	_ = rdb.FlushDB(ctx).Err()

	// seed one author and n followers
	author := model.User{ID: "author0", Username: "author0", Email: "author0@example.com"}
	_ = db.Create(&author).Error
	users := make([]model.User, n)
	edges := make([]model.Follow, n)
	now := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < n; i++ {
		id := uuid.New().String()
		users[i] = model.User{ID: id, Username: "u" + id[:8], Email: id[:8] + "@example.com"}
		edges[i] = model.Follow{ID: uuid.New().String(), FollowerID: id, FolloweeID: author.ID, CreatedAt: now}
	}
	_ = db.CreateInBatches(&users, 1000).Error
	_ = db.CreateInBatches(&edges, 1000).Error

	// 预热一部分粉丝的时间线缓存，覆盖推送路径
	for i := 0; i < n && i < 100; i++ {
		_, _, _ = a.Feeds.LoadCachedFeed(ctx, users[i].ID)
	}

	stop := a.Pool.Start()

	pubDurations := make([]time.Duration, 0, posts)
	for i := 0; i < posts; i++ {
		st := time.Now()
		if _, err := a.Publisher.Publish(ctx, author.ID, fmt.Sprintf("hello %d", i)); err != nil {
			panic(err)
		}
		pubDurations = append(pubDurations, time.Since(st))
	}

	// 每个 fanout.post 和每个批任务完成各采样一次
	batches := posts + posts*((n+cfg.Feed.FanoutBatch-1)/cfg.Feed.FanoutBatch)
	land := make([]time.Duration, 0, batches)
	timeout := time.After(2 * time.Minute)
collect:
	for len(land) < batches {
		select {
		case d := <-a.Pool.Landed():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for fanout tasks: got=%d want=%d\n", len(land), batches)
			break collect
		}
	}
	_ = stop(ctx)

	fmt.Printf("N=%d POSTS=%d WORKERS=%d BATCH=%d\n", n, posts, cfg.Tasks.Queues["fanout"], cfg.Feed.FanoutBatch)
	fmt.Printf("Publish latency: avg=%v p95=%v p99=%v\n", mean(pubDurations), pct(pubDurations, 0.95), pct(pubDurations, 0.99))
	fmt.Printf("Fanout landing (enqueue->done): samples=%d avg=%v p95=%v p99=%v\n", len(land), mean(land), pct(land, 0.95), pct(land, 0.99))

	// 一个预热过的粉丝和一个冷粉丝各读一页
	for _, u := range []string{users[0].ID, users[n-1].ID} {
		st := time.Now()
		page, err := a.Feed.ListFeed(ctx, nil, u, pagination.Params{PageSize: 50})
		if err != nil {
			panic(err)
		}
		fmt.Printf("Feed read (%s, page_size=50): %v, items=%d has_more=%v\n", u[:8], time.Since(st), len(page.Items), page.HasMore)
	}
}
