package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/task"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

const (
	// TaskFanoutPost 按 post 扇出：加载粉丝并切批
	TaskFanoutPost = "fanout.post"
	// TaskFanoutBatch 扇出批任务名
	TaskFanoutBatch = "fanout.batch"
	// QueueFanout 扇出任务使用的队列
	QueueFanout = "fanout"

	DefaultFanoutBatchSize = 1000
)

// FanoutPostPayload fanout.post 任务参数
type FanoutPostPayload struct {
	PostID string `json:"post_id"`
}

// FanoutPayload 批任务参数：只传 id，执行方自己回查 post
type FanoutPayload struct {
	PostID      string   `json:"post_id"`
	FollowerIDs []string `json:"follower_ids"`
}

// Summary 一次扇出的结果。发帖时同步返回的只有 PostID 和 Queued，
// Followers 和 Batches 由 fanout.post 任务填写。
type Summary struct {
	PostID    string `json:"post_id"`
	Queued    bool   `json:"queued"`
	Followers int    `json:"followers,omitempty"`
	Batches   int    `json:"batches,omitempty"`
}

type FanoutConfig struct {
	BatchSize int
	TimeLimit time.Duration
	// ScheduleAttempts 同步投递 fanout.post 的重试次数
	ScheduleAttempts uint
	ScheduleDelay    time.Duration
}

// FanoutCoordinator 把一条新 post 扇出到作者所有粉丝的时间线
type FanoutCoordinator struct {
	posts     repository.PostRepository
	timeline  repository.TimelineRepository
	graph     *GraphCache
	feeds     *TimelineCache
	scheduler task.Scheduler
	cfg       FanoutConfig
}

func NewFanoutCoordinator(
	posts repository.PostRepository,
	timeline repository.TimelineRepository,
	graph *GraphCache,
	feeds *TimelineCache,
	scheduler task.Scheduler,
	cfg FanoutConfig,
) *FanoutCoordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultFanoutBatchSize
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = time.Hour
	}
	if cfg.ScheduleAttempts == 0 {
		cfg.ScheduleAttempts = 3
	}
	if cfg.ScheduleDelay <= 0 {
		cfg.ScheduleDelay = 20 * time.Millisecond
	}
	return &FanoutCoordinator{
		posts:     posts,
		timeline:  timeline,
		graph:     graph,
		feeds:     feeds,
		scheduler: scheduler,
		cfg:       cfg,
	}
}

// Register 把扇出任务的处理函数注册到任务池
func (f *FanoutCoordinator) Register(pool interface {
	Register(name string, h task.Handler)
}) {
	pool.Register(TaskFanoutPost, f.HandlePost)
	pool.Register(TaskFanoutBatch, f.HandleBatch)
}

func (f *FanoutCoordinator) options() task.Options {
	return task.Options{TimeLimit: f.cfg.TimeLimit, RoutingKey: QueueFanout}
}

// FanoutToFollowers 同步写作者自己的时间线项，再投递一个只带 post id 的 fanout.post 任务。
// 粉丝加载和切批都在任务里做，发帖请求的耗时与粉丝数无关。
func (f *FanoutCoordinator) FanoutToFollowers(ctx context.Context, post *model.Post) (Summary, error) {
	ctx, span := tracer.Start(ctx, "fanout.to_followers")
	defer span.End()
	span.SetAttributes(attribute.String("post.id", post.ID), attribute.String("post.author_id", post.AuthorID))

	sum := Summary{PostID: post.ID}

	own := &model.TimelineEntry{UserID: post.AuthorID, PostID: post.ID, CreatedAt: post.CreatedAt}
	if err := f.timeline.Create(ctx, own); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "self entry")
		return sum, fmt.Errorf("create self timeline entry: %w", err)
	}
	if err := f.feeds.PushEntry(ctx, own); err != nil {
		logger.Error("self timeline cache may be stale", zap.String("post_id", post.ID), zap.Error(err))
	}

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(f.cfg.ScheduleAttempts),
		retry.Delay(f.cfg.ScheduleDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, task.ErrQueueClosed) }),
	).Do(func() error {
		return f.scheduler.Schedule(ctx, TaskFanoutPost, FanoutPostPayload{PostID: post.ID}, f.options())
	})
	if err != nil {
		fanoutPosts.WithLabelValues("schedule_failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "schedule")
		return sum, fmt.Errorf("schedule fanout of %s: %w", post.ID, err)
	}
	fanoutPosts.WithLabelValues("scheduled").Inc()
	sum.Queued = true
	return sum, nil
}

// HandlePost 执行 fanout.post：加载粉丝、切批、投递批任务。
// 任何一步失败都返回错误交给任务池重试；重跑会重复投递批任务，批任务本身幂等。
func (f *FanoutCoordinator) HandlePost(ctx context.Context, raw []byte) error {
	var p FanoutPostPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return task.Permanent(fmt.Errorf("decode fanout post payload: %w", err))
	}
	_, err := f.Dispatch(ctx, p.PostID)
	return err
}

// Dispatch 读取作者当前的粉丝，按批投递 fanout.batch
func (f *FanoutCoordinator) Dispatch(ctx context.Context, postID string) (Summary, error) {
	ctx, span := tracer.Start(ctx, "fanout.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("post.id", postID))

	sum := Summary{PostID: postID, Queued: true}
	post, err := f.posts.GetByID(ctx, postID)
	if err != nil {
		span.RecordError(err)
		return sum, err
	}
	if post == nil {
		return sum, task.Permanent(fmt.Errorf("%w: %s", ErrPostNotFound, postID))
	}

	followers, err := f.graph.FollowerIDs(ctx, post.AuthorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load followers")
		return sum, fmt.Errorf("load followers of %s: %w", post.AuthorID, err)
	}
	sum.Followers = len(followers)

	batches := Partition(followers, f.cfg.BatchSize)
	sum.Batches = len(batches)
	for i, ids := range batches {
		payload := FanoutPayload{PostID: post.ID, FollowerIDs: ids}
		if err := f.scheduler.Schedule(ctx, TaskFanoutBatch, payload, f.options()); err != nil {
			fanoutBatches.WithLabelValues("schedule_failed").Inc()
			span.RecordError(err)
			return sum, fmt.Errorf("schedule fanout batch %d of %s: %w", i, post.ID, err)
		}
		fanoutBatches.WithLabelValues("scheduled").Inc()
	}

	span.SetAttributes(attribute.Int("fanout.followers", sum.Followers), attribute.Int("fanout.batches", sum.Batches))
	logger.Debug("fanout dispatched",
		zap.String("post_id", post.ID),
		zap.Int("followers", sum.Followers),
		zap.Int("batches", sum.Batches))
	return sum, nil
}

// HandleBatch 执行一个批任务：一条语句批量写入，再逐个推进粉丝的时间线缓存。
// 重复执行是安全的：(user_id, post_id) 冲突忽略，缓存按 post id 去重。
// 某个粉丝的缓存既推不进也删不掉时返回错误，由任务池重试整批。
func (f *FanoutCoordinator) HandleBatch(ctx context.Context, raw []byte) error {
	var p FanoutPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return task.Permanent(fmt.Errorf("decode fanout payload: %w", err))
	}
	ctx, span := tracer.Start(ctx, "fanout.batch")
	defer span.End()
	span.SetAttributes(attribute.String("post.id", p.PostID), attribute.Int("fanout.size", len(p.FollowerIDs)))

	post, err := f.posts.GetByID(ctx, p.PostID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if post == nil {
		// post 已删除，重试没有意义
		return task.Permanent(fmt.Errorf("%w: %s", ErrPostNotFound, p.PostID))
	}

	entries := make([]model.TimelineEntry, len(p.FollowerIDs))
	for i, uid := range p.FollowerIDs {
		entries[i] = model.TimelineEntry{UserID: uid, PostID: post.ID, CreatedAt: post.CreatedAt}
	}
	inserted, err := f.timeline.BulkCreate(ctx, entries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bulk insert")
		return fmt.Errorf("bulk insert timeline entries: %w", err)
	}
	fanoutEntries.Add(float64(inserted))

	var stale []error
	for i := range entries {
		if err := f.feeds.PushEntry(ctx, &entries[i]); err != nil {
			stale = append(stale, err)
		}
	}
	if len(stale) > 0 {
		fanoutBatches.WithLabelValues("cache_stale").Inc()
		err := fmt.Errorf("%d of %d timeline caches not updated: %w", len(stale), len(entries), errors.Join(stale...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache push")
		return err
	}
	fanoutBatches.WithLabelValues("done").Inc()
	return nil
}

// Partition 把 ids 按 size 切分，最后一批可能不满
func Partition(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultFanoutBatchSize
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
