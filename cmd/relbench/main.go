package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/app"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/pkg/database"
	"github.com/d60-Lab/newsfeed/pkg/redisx"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
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

func timed(f func()) time.Duration {
	st := time.Now()
	f()
	return time.Since(st)
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	cfg.Database.AutoMigrate = true

	n := envInt("N", 10000)
	conc := envInt("CONC", 8)
	page := envInt("PAGE", 50)

	db := must(database.InitDB(cfg))
	rdb := must(redisx.NewClient(ctx, cfg.Redis))
	defer rdb.Close()
	a := app.New(cfg, db, rdb, nil)

	_ = db.Exec("DELETE FROM follows").Error
	_ = db.Exec("DELETE FROM users").Error
	_ = rdb.FlushDB(ctx).Err()

	// u0 是大 V，其余用户都去关注它
	celeb := model.User{ID: "u0", Username: "u0", Email: "u0@example.com"}
	_ = db.Create(&celeb).Error
	users := make([]model.User, n)
	for i := range users {
		id := uuid.New().String()
		users[i] = model.User{ID: id, Username: "u" + id[:8], Email: id[:8] + "@example.com"}
	}
	_ = db.CreateInBatches(&users, 1000).Error

	// 预热关注集合，让每次 Follow 都要走一次失效
	for i := 0; i < n; i++ {
		_, _ = a.Graph.FollowingIDs(ctx, users[i].ID)
	}

	feed := make(chan int, n)
	for i := 0; i < n; i++ {
		feed <- i
	}
	close(feed)

	var (
		mu       sync.Mutex
		follows  = make([]time.Duration, 0, n)
		failures int
		wg       sync.WaitGroup
	)
	total := timed(func() {
		for w := 0; w < conc; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range feed {
					st := time.Now()
					_, err := a.Relations.Follow(ctx, users[i].ID, celeb.ID)
					d := time.Since(st)
					mu.Lock()
					follows = append(follows, d)
					if err != nil {
						failures++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
	})

	// 被失效的集合重新加载，再读一次命中缓存
	cold := timed(func() { _, _ = a.Graph.FollowingIDs(ctx, users[0].ID) })
	warm := timed(func() { _, _ = a.Graph.FollowingIDs(ctx, users[0].ID) })

	var fans pagination.Page[service.FollowView]
	fansDur := timed(func() {
		fans = must(a.Relations.ListFollowers(ctx, a.Viewer(users[0].ID), celeb.ID, pagination.Params{PageSize: page}))
	})

	fmt.Printf("N=%d CONC=%d PAGE=%d\n", n, conc, page)
	fmt.Printf("Follow (edge + invalidation): total=%v per op=%v p50=%v p95=%v p99=%v failures=%d\n",
		total, total/time.Duration(n), pct(follows, 0.50), pct(follows, 0.95), pct(follows, 0.99), failures)
	fmt.Printf("Following set: cold=%v warm=%v\n", cold, warm)
	fmt.Printf("Query followers(%d) with viewer: %v items=%d has_more=%v\n", page, fansDur, len(fans.Items), fans.HasMore)
}
