package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
)

func TestFollow_InvalidatesFollowingSet(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	ctx := context.Background()
	e.addUser(t, "a")
	e.addUser(t, "b")

	// 先缓存一个空集合
	ids, err := e.graph.FollowingIDs(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, ids)

	res, err := e.rel.Follow(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	ids, err = e.graph.FollowingIDs(ctx, "a")
	require.NoError(t, err)
	assert.Contains(t, ids, "b")

	deleted, err := e.rel.Unfollow(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	ids, err = e.graph.FollowingIDs(ctx, "a")
	require.NoError(t, err)
	assert.NotContains(t, ids, "b")
}

func TestFollow_Rules(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	ctx := context.Background()
	e.addUser(t, "a")
	e.addUser(t, "b")

	_, err := e.rel.Follow(ctx, "a", "a")
	assert.ErrorIs(t, err, ErrFollowSelf)
	_, err = e.rel.Unfollow(ctx, "a", "a")
	assert.ErrorIs(t, err, ErrFollowSelf)
	_, err = e.rel.Follow(ctx, "a", "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	res, err := e.rel.Follow(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	res, err = e.rel.Follow(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	deleted, err := e.rel.Unfollow(ctx, "b", "a")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestFollow_RollsBackWhenCacheDown(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	ctx := context.Background()
	e.addUser(t, "a")
	e.addUser(t, "b")
	// 目标用户检查可以回源，但关注集合失效不了，关系必须回滚
	e.mr.Close()

	_, err := e.rel.Follow(ctx, "a", "b")
	require.Error(t, err)

	ok, err := e.follows.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListFollowersAndFollowing(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	ctx := context.Background()
	for _, id := range []string{"star", "u1", "u2", "u3", "viewer"} {
		e.addUser(t, id)
	}
	for i, id := range []string{"u1", "u2", "u3"} {
		_, err := e.rel.Follow(ctx, id, "star")
		require.NoError(t, err)
		require.NoError(t, e.db.Model(&model.Follow{}).
			Where("follower_id = ? AND followee_id = ?", id, "star").
			Update("created_at", t0.Add(time.Duration(i)*time.Second)).Error)
	}
	_, err := e.rel.Follow(ctx, "viewer", "u2")
	require.NoError(t, err)

	viewer := NewViewer(e.graph, "viewer")
	page, err := e.rel.ListFollowers(ctx, viewer, "star", pagination.Params{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "u3", page.Items[0].User.ID)

	cursor := page.Items[1].CreatedAt
	rest, err := e.rel.ListFollowers(ctx, viewer, "star", pagination.Params{Before: &cursor, PageSize: 2})
	require.NoError(t, err)
	assert.False(t, rest.HasMore)

	all := append(page.Items, rest.Items...)
	got := map[string]bool{}
	for _, it := range all {
		got[it.User.ID] = it.HasFollowed
	}
	assert.Equal(t, map[string]bool{"u1": false, "u2": true, "u3": false}, got)

	following, err := e.rel.ListFollowing(ctx, nil, "u1", pagination.Params{})
	require.NoError(t, err)
	require.Len(t, following.Items, 1)
	assert.Equal(t, "star", following.Items[0].User.ID)
	assert.False(t, following.Items[0].HasFollowed)
}

func TestViewer_Anonymous(t *testing.T) {
	var v *Viewer
	ok, err := v.HasFollowed(context.Background(), "anyone")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = NewViewer(nil, "").HasFollowed(context.Background(), "anyone")
	require.NoError(t, err)
	assert.False(t, ok)
}
