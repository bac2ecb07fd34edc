package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
)

// TimelineRepository 时间线项存储
type TimelineRepository interface {
	// Create 单条写入（作者自己那条）
	Create(ctx context.Context, e *model.TimelineEntry) error
	// BulkCreate 一条 INSERT 写入整批，(user_id, post_id) 冲突忽略，返回实际新增行数
	BulkCreate(ctx context.Context, entries []model.TimelineEntry) (int64, error)
	// ListByUser 按 created_at 倒序，post_id 作为同一时间的次序
	ListByUser(ctx context.Context, userID string, f pagination.Filter) ([]*model.TimelineEntry, error)
}

type timelineRepository struct{ db *gorm.DB }

func NewTimelineRepository(db *gorm.DB) TimelineRepository { return &timelineRepository{db: db} }

func (r *timelineRepository) Create(ctx context.Context, e *model.TimelineEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e).Error
}

func (r *timelineRepository) BulkCreate(ctx context.Context, entries []model.TimelineEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.New().String()
		}
	}
	// upsert ignore duplicates
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entries)
	return res.RowsAffected, res.Error
}

func (r *timelineRepository) ListByUser(ctx context.Context, userID string, f pagination.Filter) ([]*model.TimelineEntry, error) {
	var res []*model.TimelineEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Scopes(cursorScope(f)).
		Order("created_at DESC, post_id DESC").
		Find(&res).Error
	return res, err
}
