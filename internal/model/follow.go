package model

import (
	"time"
)

// Follow 关注关系（A 关注 B）
type Follow struct {
	ID         string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	FollowerID string `json:"follower_id" gorm:"type:varchar(36);index:idx_follow_follower_created,priority:1;uniqueIndex:idx_follow_pair,priority:1;not null"`
	FolloweeID string `json:"followee_id" gorm:"type:varchar(36);index:idx_follow_followee_created,priority:1;uniqueIndex:idx_follow_pair,priority:2;not null"`
	// 复合唯一键，避免重复关注
	// idx_follow_pair = (follower_id, followee_id)
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_follow_follower_created,priority:2;index:idx_follow_followee_created,priority:2"`
}

func (Follow) TableName() string { return "follows" }

func (f Follow) Timestamp() time.Time { return f.CreatedAt }
