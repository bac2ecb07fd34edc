package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

var ErrEmptyContent = errors.New("post content is empty")

// PublishResult 发帖结果
type PublishResult struct {
	Post   *model.Post `json:"post"`
	Fanout Summary     `json:"fanout"`
}

// Publisher 发帖：落库后投递扇出任务。post 落库即成功，投递失败只记日志。
type Publisher struct {
	posts  repository.PostRepository
	users  *cache.ObjectCache[model.User]
	lists  *PostListCache
	fanout *FanoutCoordinator
}

func NewPublisher(posts repository.PostRepository, users *cache.ObjectCache[model.User], lists *PostListCache, fanout *FanoutCoordinator) *Publisher {
	return &Publisher{posts: posts, users: users, lists: lists, fanout: fanout}
}

func (p *Publisher) Publish(ctx context.Context, authorID, content string) (*PublishResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	author, err := p.users.Get(ctx, authorID)
	if err != nil {
		return nil, err
	}
	if !author.Found() {
		return nil, ErrUserNotFound
	}

	post, err := p.posts.Create(ctx, authorID, content)
	if err != nil {
		return nil, err
	}
	if err := p.lists.PushPost(ctx, post); err != nil {
		logger.Warn("push post to author list failed", zap.String("post_id", post.ID), zap.Error(err))
	}

	sum, err := p.fanout.FanoutToFollowers(ctx, post)
	if err != nil {
		logger.Error("fanout not queued", zap.String("post_id", post.ID), zap.Error(err))
	}
	return &PublishResult{Post: post, Fanout: sum}, nil
}
