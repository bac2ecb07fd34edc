package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/app"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/pkg/database"
	"github.com/d60-Lab/newsfeed/pkg/redisx"
)

type request struct {
	userID string
	before *time.Time
	size   int
}

type scenarioResult struct {
	durations   []time.Duration
	cacheKeys   int
	memoryBytes int64
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	cfg.Database.AutoMigrate = true
	db := must(database.InitDB(cfg))
	rdb := must(redisx.NewClient(ctx, cfg.Redis))
	defer rdb.Close()

	a := app.New(cfg, db, rdb, nil)

	entries := envInt("ENTRIES", 2000) // 每个用户的时间线长度
	users := envInt("USERS", 3)
	requests := envInt("REQUESTS", 3000)

	fmt.Println("Setting up test data...")
	mustDo(db.Exec("DELETE FROM timeline_entries").Error)
	mustDo(db.Exec("DELETE FROM posts").Error)
	mustDo(db.Exec("DELETE FROM users").Error)

	author := model.User{ID: "author0", Username: "author0", Email: "author0@example.com"}
	mustDo(db.Create(&author).Error)
	base := time.Now().UTC().Truncate(time.Microsecond)
	posts := make([]model.Post, entries)
	for i := range posts {
		at := base.Add(-time.Duration(i) * time.Second)
		posts[i] = model.Post{ID: uuid.NewString(), AuthorID: author.ID, Content: fmt.Sprintf("post %d", i), CreatedAt: at, UpdatedAt: at}
	}
	mustDo(db.CreateInBatches(&posts, 1000).Error)

	owners := make([]string, users)
	for u := range owners {
		owner := model.User{ID: fmt.Sprintf("reader%d", u), Username: fmt.Sprintf("reader%d", u)}
		mustDo(db.Create(&owner).Error)
		owners[u] = owner.ID
		rows := make([]model.TimelineEntry, entries)
		for i, p := range posts {
			rows[i] = model.TimelineEntry{ID: uuid.NewString(), UserID: owner.ID, PostID: p.ID, CreatedAt: p.CreatedAt}
		}
		mustDo(db.CreateInBatches(&rows, 1000).Error)
	}
	fmt.Printf("Test data ready: %d readers x %d timeline entries\n", users, entries)

	reqs := makeRequests(requests, owners, posts)

	storeOnly := runScenario(ctx, rdb, reqs, false, func(ctx context.Context, r request) (int, error) {
		src := pagination.QuerySource[*model.TimelineEntry](func(ctx context.Context, f pagination.Filter) ([]*model.TimelineEntry, error) {
			return a.Timeline.ListByUser(ctx, r.userID, f)
		})
		page, err := pagination.Paginate(ctx, src, pagination.Params{Before: r.before, PageSize: r.size})
		if err != nil {
			return 0, err
		}
		for _, e := range page.Items {
			if _, err := a.Posts.GetByID(ctx, e.PostID); err != nil {
				return 0, err
			}
		}
		return len(page.Items), nil
	})

	cached := runScenario(ctx, rdb, reqs, true, func(ctx context.Context, r request) (int, error) {
		page, err := a.Feed.ListFeed(ctx, nil, r.userID, pagination.Params{Before: r.before, PageSize: r.size})
		return len(page.Items), err
	})

	fmt.Printf("\nFeed read latency (%d req across %d readers, window=%d)\n", len(reqs), users, cfg.Feed.CacheListLimit)
	report("Store only", storeOnly)
	report("Timeline cache", cached)
}

func report(name string, r scenarioResult) {
	fmt.Printf("%-16s avg=%v p95=%v p99=%v cache_keys=%d mem=%s\n",
		name, avg(r.durations), pct(r.durations, 0.95), pct(r.durations, 0.99), r.cacheKeys, formatBytes(r.memoryBytes))
}

func runScenario(ctx context.Context, client *redis.Client, reqs []request, warm bool, call func(context.Context, request) (int, error)) scenarioResult {
	client.FlushDB(ctx)

	if warm {
		fmt.Print("  Warming cache...")
		for _, r := range reqs {
			if _, err := call(ctx, r); err != nil {
				panic(err)
			}
		}
		fmt.Println(" done")
	}

	fmt.Print("  Running benchmark...")
	out := make([]time.Duration, 0, len(reqs))
	for _, r := range reqs {
		start := time.Now()
		if _, err := call(ctx, r); err != nil {
			panic(err)
		}
		out = append(out, time.Since(start))
	}
	fmt.Println(" done")

	keys, _ := client.DBSize(ctx).Result()
	var memBytes int64
	if info, err := client.Info(ctx, "memory").Result(); err == nil {
		memBytes = parseRedisMemory(info)
	}
	return scenarioResult{durations: out, cacheKeys: int(keys), memoryBytes: memBytes}
}

// parseRedisMemory 取 INFO memory 中的 used_memory
func parseRedisMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// makeRequests 大部分请求读第一页，其余带 created_at__lt 翻到更深的位置
func makeRequests(n int, owners []string, posts []model.Post) []request {
	sizes := []int{10, 20, 40}
	out := make([]request, n)
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < n; i++ {
		r := request{userID: owners[rnd.Intn(len(owners))], size: sizes[rnd.Intn(len(sizes))]}
		if rnd.Float64() > 0.72 && len(posts) > 0 {
			at := posts[rnd.Intn(len(posts))].CreatedAt
			r.before = &at
		}
		out[i] = r
	}
	return out
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
