package service

import (
	"context"
	"sync"
)

// Viewer 一次请求中的当前用户。
// 渲染列表时"是否已关注"只查一次关注集合，结果随 Viewer 传递，不挂在共享对象上。
type Viewer struct {
	ID string

	graph     *GraphCache
	once      sync.Once
	following map[string]struct{}
	err       error
}

// NewViewer id 为空表示匿名访问
func NewViewer(graph *GraphCache, id string) *Viewer {
	return &Viewer{ID: id, graph: graph}
}

// Anonymous 未登录
func (v *Viewer) Anonymous() bool { return v == nil || v.ID == "" }

// HasFollowed 当前用户是否关注了 userID；匿名用户不关注任何人
func (v *Viewer) HasFollowed(ctx context.Context, userID string) (bool, error) {
	if v.Anonymous() || v.graph == nil {
		return false, nil
	}
	v.once.Do(func() {
		v.following, v.err = v.graph.FollowingIDs(ctx, v.ID)
	})
	if v.err != nil {
		return false, v.err
	}
	_, ok := v.following[userID]
	return ok, nil
}
