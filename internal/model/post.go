package model

import "time"

// Post 用户发布的内容
type Post struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AuthorID string `json:"author_id" gorm:"type:varchar(36);index:idx_post_author_created,priority:1;not null"`
	Content  string `json:"content" gorm:"type:text"`
	// 创建时截断到微秒，和缓存中的 score 精度一致
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_post_author_created,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Post) TableName() string { return "posts" }

// Timestamp 分页游标字段
func (p Post) Timestamp() time.Time { return p.CreatedAt }
