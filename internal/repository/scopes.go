package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/internal/pagination"
)

// cursorScope 把翻页条件翻译成 created_at 范围 + LIMIT
func cursorScope(f pagination.Filter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.After != nil {
			db = db.Where("created_at > ?", f.After.UTC())
		}
		if f.Before != nil {
			db = db.Where("created_at < ?", f.Before.UTC())
		}
		if f.Limit > 0 {
			db = db.Limit(f.Limit)
		}
		return db
	}
}

func notFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
