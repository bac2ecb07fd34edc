package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// FollowResult 重复关注视为成功，Duplicate 标记
type FollowResult struct {
	Duplicate bool `json:"duplicate"`
}

// FollowView 关注/粉丝列表中的一项
type FollowView struct {
	User        *model.User `json:"user"`
	CreatedAt   time.Time   `json:"created_at"`
	HasFollowed bool        `json:"has_followed"`
}

// RelationshipService 关系链服务
type RelationshipService interface {
	Follow(ctx context.Context, fromUserID, toUserID string) (FollowResult, error)
	Unfollow(ctx context.Context, fromUserID, toUserID string) (int64, error)
	ListFollowing(ctx context.Context, viewer *Viewer, userID string, p pagination.Params) (pagination.Page[FollowView], error)
	ListFollowers(ctx context.Context, viewer *Viewer, userID string, p pagination.Params) (pagination.Page[FollowView], error)
}

type relationshipService struct {
	db      *gorm.DB
	follows repository.FollowRepository
	graph   *GraphCache
	users   *cache.ObjectCache[model.User]
}

func NewRelationshipService(db *gorm.DB, follows repository.FollowRepository, graph *GraphCache, users *cache.ObjectCache[model.User]) RelationshipService {
	return &relationshipService{db: db, follows: follows, graph: graph, users: users}
}

// Follow 写关系与失效关注集合在同一个事务里：失效失败则关系回滚。
// 提交后再失效一次，清掉事务未提交期间被读穿回填的旧集合。
func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID string) (FollowResult, error) {
	if fromUserID == toUserID {
		return FollowResult{}, ErrFollowSelf
	}
	target, err := s.users.Get(ctx, toUserID)
	if err != nil {
		return FollowResult{}, err
	}
	if !target.Found() {
		return FollowResult{}, ErrUserNotFound
	}

	var res FollowResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.follows.WithTx(tx).Create(ctx, fromUserID, toUserID)
		if err != nil {
			return err
		}
		if !created {
			res.Duplicate = true
			return nil
		}
		return s.graph.InvalidateFollowing(ctx, fromUserID)
	})
	if err != nil {
		return FollowResult{}, err
	}
	if !res.Duplicate {
		s.invalidateAfterCommit(ctx, fromUserID)
	}
	return res, nil
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID string) (int64, error) {
	if fromUserID == toUserID {
		return 0, ErrFollowSelf
	}
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.follows.WithTx(tx).Delete(ctx, fromUserID, toUserID)
		if err != nil {
			return err
		}
		deleted = n
		if n == 0 {
			return nil
		}
		return s.graph.InvalidateFollowing(ctx, fromUserID)
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.invalidateAfterCommit(ctx, fromUserID)
	}
	return deleted, nil
}

func (s *relationshipService) invalidateAfterCommit(ctx context.Context, userID string) {
	if err := s.graph.InvalidateFollowing(ctx, userID); err != nil {
		logger.Warn("post-commit following invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *relationshipService) ListFollowing(ctx context.Context, viewer *Viewer, userID string, p pagination.Params) (pagination.Page[FollowView], error) {
	src := pagination.QuerySource[*model.Follow](func(ctx context.Context, f pagination.Filter) ([]*model.Follow, error) {
		return s.follows.ListFollowings(ctx, userID, f)
	})
	return s.listEdges(ctx, viewer, src, p, func(f *model.Follow) string { return f.FolloweeID })
}

func (s *relationshipService) ListFollowers(ctx context.Context, viewer *Viewer, userID string, p pagination.Params) (pagination.Page[FollowView], error) {
	src := pagination.QuerySource[*model.Follow](func(ctx context.Context, f pagination.Filter) ([]*model.Follow, error) {
		return s.follows.ListFollowers(ctx, userID, f)
	})
	return s.listEdges(ctx, viewer, src, p, func(f *model.Follow) string { return f.FollowerID })
}

// listEdges 翻页后回填用户资料；用户已不存在的项直接跳过
func (s *relationshipService) listEdges(
	ctx context.Context,
	viewer *Viewer,
	src pagination.Source[*model.Follow],
	p pagination.Params,
	other func(*model.Follow) string,
) (pagination.Page[FollowView], error) {
	page, err := pagination.Paginate(ctx, src, p)
	if err != nil {
		return pagination.Page[FollowView]{}, err
	}

	ids := make([]string, len(page.Items))
	for i, f := range page.Items {
		ids[i] = other(f)
	}
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return pagination.Page[FollowView]{}, err
	}

	out := pagination.Page[FollowView]{Items: make([]FollowView, 0, len(page.Items)), HasMore: page.HasMore}
	for _, f := range page.Items {
		u := users[other(f)]
		if !u.Found() {
			continue
		}
		followed, err := viewer.HasFollowed(ctx, u.Value().ID)
		if err != nil {
			return pagination.Page[FollowView]{}, err
		}
		out.Items = append(out.Items, FollowView{User: u.Value(), CreatedAt: f.CreatedAt, HasFollowed: followed})
	}
	return out, nil
}
