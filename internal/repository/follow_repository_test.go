package repository

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
)

func TestFollowRepository_CreateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFollowRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Create(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, created)

	var cnt int64
	require.NoError(t, db.Model(&model.Follow{}).Count(&cnt).Error)
	assert.Equal(t, int64(1), cnt)

	ok, err := repo.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := repo.Delete(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	ok, err = repo.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFollowRepository_ListFollowersOrderedAndPaged(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFollowRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&model.Follow{
			ID: fmt.Sprintf("f%d", i), FollowerID: fmt.Sprintf("u%d", i), FolloweeID: "star",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	ids, err := repo.ListFollowerIDs(ctx, "star")
	require.NoError(t, err)
	assert.Equal(t, []string{"u4", "u3", "u2", "u1", "u0"}, ids)

	before := base.Add(3 * time.Minute)
	rows, err := repo.ListFollowers(ctx, "star", pagination.Filter{Before: &before, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "u2", rows[0].FollowerID)
	assert.Equal(t, "u1", rows[1].FollowerID)

	following, err := repo.ListFollowingIDs(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, []string{"star"}, following)
}

func BenchmarkFollowWrite(b *testing.B) {
	db := setupTestDB(b)
	followRepo := NewFollowRepository(db)
	ctx := context.Background()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		from := fmt.Sprintf("u%04d", r.Intn(1000))
		to := fmt.Sprintf("u%04d", r.Intn(1000))
		if from == to {
			continue
		}
		_, _ = followRepo.Create(ctx, from, to)
	}
}

func BenchmarkQueryFollowersAndFollowing(b *testing.B) {
	db := setupTestDB(b)
	followRepo := NewFollowRepository(db)
	ctx := context.Background()

	// 构造：一个用户 U0 有 N 个粉丝，同时 U0 也关注 N 个用户
	const N = 2000
	for i := 1; i <= N; i++ {
		uid := fmt.Sprintf("u%v", i)
		_, _ = followRepo.Create(ctx, uid, "u0")
		_, _ = followRepo.Create(ctx, "u0", uid)
	}

	b.ResetTimer()
	b.Run("ListFollowers", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = followRepo.ListFollowers(ctx, "u0", pagination.Filter{Limit: 51})
		}
	})
	b.Run("ListFollowerIDs", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = followRepo.ListFollowerIDs(ctx, "u0")
		}
	})
	b.Run("ListFollowings", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = followRepo.ListFollowings(ctx, "u0", pagination.Filter{Limit: 51})
		}
	})
}
