package pagination

import (
	"context"
	"time"
)

// Timestamped 可按创建时间分页的元素
type Timestamped interface {
	Timestamp() time.Time
}

// Filter 交给数据源的查询条件；Limit 为 0 表示不限条数
type Filter struct {
	After  *time.Time
	Before *time.Time
	Limit  int
}

// Source 按 created_at 倒序提供元素，可以是缓存里的有序列表，也可以是数据库查询
type Source[T Timestamped] interface {
	Fetch(ctx context.Context, f Filter) ([]T, error)
}

// SliceSource 已按时间倒序排好的内存列表
type SliceSource[T Timestamped] []T

func (s SliceSource[T]) Fetch(_ context.Context, f Filter) ([]T, error) {
	if f.After != nil {
		out := make([]T, 0)
		for _, it := range s {
			if !it.Timestamp().After(*f.After) {
				break
			}
			out = append(out, it)
		}
		return out, nil
	}

	start := 0
	if f.Before != nil {
		start = len(s)
		for i, it := range s {
			if it.Timestamp().Before(*f.Before) {
				start = i
				break
			}
		}
	}
	end := len(s)
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}
	out := make([]T, end-start)
	copy(out, s[start:end])
	return out, nil
}

// QuerySource 把仓储查询适配成 Source
type QuerySource[T Timestamped] func(ctx context.Context, f Filter) ([]T, error)

func (q QuerySource[T]) Fetch(ctx context.Context, f Filter) ([]T, error) { return q(ctx, f) }

// Page 一页结果
type Page[T any] struct {
	Items   []T  `json:"results"`
	HasMore bool `json:"has_next_page"`
}

// Paginate 对任意 Source 执行一次翻页。
// 非刷新模式多取一条来判断是否还有下一页，避免额外的 count 查询。
func Paginate[T Timestamped](ctx context.Context, src Source[T], p Params) (Page[T], error) {
	size := p.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	if p.After != nil {
		items, err := src.Fetch(ctx, Filter{After: p.After})
		if err != nil {
			return Page[T]{}, err
		}
		return Page[T]{Items: nonNil(items), HasMore: false}, nil
	}

	items, err := src.Fetch(ctx, Filter{Before: p.Before, Limit: size + 1})
	if err != nil {
		return Page[T]{}, err
	}
	hasMore := len(items) > size
	if hasMore {
		items = items[:size]
	}
	return Page[T]{Items: nonNil(items), HasMore: hasMore}, nil
}

// Map 转换一页的元素类型，保留 HasMore
func Map[T, U any](p Page[T], fn func(T) (U, bool)) Page[U] {
	out := make([]U, 0, len(p.Items))
	for _, it := range p.Items {
		if u, ok := fn(it); ok {
			out = append(out, u)
		}
	}
	return Page[U]{Items: out, HasMore: p.HasMore}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
