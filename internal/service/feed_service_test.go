package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
)

// newestFirst 返回 posts 倒序后的 id
func newestFirst(posts []*model.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[len(posts)-1-i] = p.ID
	}
	return out
}

func TestListFeed_FirstAndNextPage(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	ctx := context.Background()
	e.addUser(t, "bob")
	e.addUser(t, "alice")
	posts := e.seedFeed(t, "bob", "alice", 25)
	want := newestFirst(posts)

	first, err := e.feed.ListFeed(ctx, nil, "bob", pagination.Params{PageSize: 20})
	require.NoError(t, err)
	require.Len(t, first.Items, 20)
	assert.True(t, first.HasMore)
	assert.Equal(t, want[:20], feedPostIDs(first.Items))

	cursor := first.Items[19].CreatedAt
	next, err := e.feed.ListFeed(ctx, nil, "bob", pagination.Params{Before: &cursor, PageSize: 20})
	require.NoError(t, err)
	assert.False(t, next.HasMore)
	assert.Equal(t, want[20:], feedPostIDs(next.Items))
	for _, it := range next.Items {
		assert.True(t, it.CreatedAt.Before(cursor))
	}
}

func TestListFeed_ReadsStoreBeyondCachedWindow(t *testing.T) {
	e := newTestEnv(t, envOptions{listLimit: 10})
	ctx := context.Background()
	e.addUser(t, "bob")
	e.addUser(t, "alice")
	want := newestFirst(e.seedFeed(t, "bob", "alice", 25))

	var got []string
	params := pagination.Params{PageSize: 4}
	for i := 0; i < 10; i++ {
		page, err := e.feed.ListFeed(ctx, nil, "bob", params)
		require.NoError(t, err)
		got = append(got, feedPostIDs(page.Items)...)
		if !page.HasMore {
			break
		}
		cursor := page.Items[len(page.Items)-1].CreatedAt
		params.Before = &cursor
	}
	assert.Equal(t, want, got)

	entries, src, err := e.feeds.LoadCachedFeed(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, cache.SourceCache, src)
	assert.Len(t, entries, 10)
}

func TestListFeed_Refresh(t *testing.T) {
	e := newTestEnv(t, envOptions{listLimit: 10})
	ctx := context.Background()
	e.addUser(t, "bob")
	e.addUser(t, "alice")
	posts := e.seedFeed(t, "bob", "alice", 25)
	want := newestFirst(posts)

	t.Run("within window", func(t *testing.T) {
		after := posts[20].CreatedAt
		page, err := e.feed.ListFeed(ctx, nil, "bob", pagination.Params{After: &after, PageSize: 2})
		require.NoError(t, err)
		assert.False(t, page.HasMore)
		assert.Equal(t, want[:4], feedPostIDs(page.Items))
	})

	t.Run("beyond window", func(t *testing.T) {
		after := posts[3].CreatedAt
		page, err := e.feed.ListFeed(ctx, nil, "bob", pagination.Params{After: &after, PageSize: 2})
		require.NoError(t, err)
		assert.False(t, page.HasMore)
		assert.Equal(t, want[:21], feedPostIDs(page.Items))
	})
}

func TestListFeed_OlderThanEverything(t *testing.T) {
	e := newTestEnv(t, envOptions{listLimit: 10})
	e.addUser(t, "bob")
	e.addUser(t, "alice")
	e.seedFeed(t, "bob", "alice", 25)

	before := t0
	page, err := e.feed.ListFeed(context.Background(), nil, "bob", pagination.Params{Before: &before, PageSize: 20})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestListFeed_CacheDown(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	e.addUser(t, "bob")
	e.addUser(t, "alice")
	want := newestFirst(e.seedFeed(t, "bob", "alice", 25))
	e.mr.Close()

	page, err := e.feed.ListFeed(context.Background(), nil, "bob", pagination.Params{PageSize: 20})
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, want[:20], feedPostIDs(page.Items))
	assert.Equal(t, "alice", page.Items[0].Author.ID)
}

func TestListFeed_SkipsDeletedPosts(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	ctx := context.Background()
	e.addUser(t, "bob")
	e.addUser(t, "alice")
	posts := e.seedFeed(t, "bob", "alice", 3)
	require.NoError(t, e.db.Delete(&model.Post{}, "id = ?", posts[1].ID).Error)

	page, err := e.feed.ListFeed(ctx, nil, "bob", pagination.Params{PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, []string{posts[2].ID, posts[0].ID}, feedPostIDs(page.Items))
}

func TestListFeed_HasFollowedAuthor(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	ctx := context.Background()
	e.addUser(t, "bob")
	e.addUser(t, "alice")
	e.addUser(t, "carol")
	e.seedFeed(t, "bob", "alice", 1)
	_, err := e.rel.Follow(ctx, "bob", "alice")
	require.NoError(t, err)

	page, err := e.feed.ListFeed(ctx, NewViewer(e.graph, "bob"), "bob", pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].HasFollowed)

	page, err = e.feed.ListFeed(ctx, NewViewer(e.graph, "carol"), "bob", pagination.Params{})
	require.NoError(t, err)
	assert.False(t, page.Items[0].HasFollowed)
}

func TestListUserPosts(t *testing.T) {
	e := newTestEnv(t, envOptions{listLimit: 5})
	ctx := context.Background()
	e.addUser(t, "alice")
	var posts []*model.Post
	for i := 0; i < 8; i++ {
		posts = append(posts, e.seedPost(t, "alice", t0.Add(time.Duration(i)*time.Minute)))
	}
	want := newestFirst(posts)

	first, err := e.feed.ListUserPosts(ctx, nil, "alice", pagination.Params{PageSize: 3})
	require.NoError(t, err)
	assert.True(t, first.HasMore)
	assert.Equal(t, want[:3], feedPostIDs(first.Items))

	cursor := first.Items[2].CreatedAt
	second, err := e.feed.ListUserPosts(ctx, nil, "alice", pagination.Params{Before: &cursor, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, want[3:6], feedPostIDs(second.Items))
	assert.True(t, second.HasMore)

	cursor = second.Items[2].CreatedAt
	third, err := e.feed.ListUserPosts(ctx, nil, "alice", pagination.Params{Before: &cursor, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, want[6:], feedPostIDs(third.Items))
	assert.False(t, third.HasMore)

	// 发布新 post 推进已缓存的列表
	res, err := e.publisher.Publish(ctx, "alice", "fresh")
	require.NoError(t, err)
	entries, src, err := e.postLists.LoadCachedPosts(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, cache.SourceCache, src)
	require.Len(t, entries, 5)
	assert.Equal(t, res.Post.ID, entries[0].ID)
}
