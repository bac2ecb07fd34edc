package model

import "time"

// TimelineEntry 时间线项：某个用户的 feed 中可见的一条 post
type TimelineEntry struct {
	ID     string `json:"id,omitempty" gorm:"primaryKey;type:varchar(36)"`
	UserID string `json:"user_id" gorm:"type:varchar(36);index:idx_timeline_user_created,priority:1;uniqueIndex:ux_timeline_user_post,priority:1;not null"`
	PostID string `json:"post_id" gorm:"type:varchar(36);index:idx_timeline_post;uniqueIndex:ux_timeline_user_post,priority:2;not null"`
	// 复合唯一键，扇出重试时 ON CONFLICT DO NOTHING
	// ux_timeline_user_post = (user_id, post_id)
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_timeline_user_created,priority:2"`
}

func (TimelineEntry) TableName() string { return "timeline_entries" }

func (e TimelineEntry) Timestamp() time.Time { return e.CreatedAt }
