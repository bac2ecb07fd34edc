package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// listStore 模拟存储：每个 owner 一组条目
type listStore struct {
	mu    sync.Mutex
	rows  map[string][]Entry
	loads int
	// hook 在读取存储之后执行，用于模拟并发写
	hook func()
}

func (s *listStore) add(owner string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[owner] = append(s.rows[owner], e)
}

func (s *listStore) load(_ context.Context, owner string, limit int) ([]Entry, error) {
	s.mu.Lock()
	s.loads++
	rows := append([]Entry(nil), s.rows[owner]...)
	hook := s.hook
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].At.Equal(rows[j].At) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].At.After(rows[j].At)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if hook != nil {
		hook()
	}
	return rows, nil
}

func entry(i int) Entry {
	return Entry{ID: fmt.Sprintf("p%03d", i), At: t0.Add(time.Duration(i) * time.Second)}
}

func ids(es []Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func TestOrderedList_LoadFillsAndHits(t *testing.T) {
	backend, _ := newTestBackend(t)
	l := NewOrderedList(backend, KindFeed, 5, time.Hour)
	store := &listStore{rows: map[string][]Entry{}}
	for i := 0; i < 8; i++ {
		store.add("u1", entry(i))
	}
	ctx := context.Background()

	got, src, err := l.Load(ctx, "u1", store.load)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, src)
	assert.Equal(t, []string{"p007", "p006", "p005", "p004", "p003"}, ids(got))

	got, src, err = l.Load(ctx, "u1", store.load)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, []string{"p007", "p006", "p005", "p004", "p003"}, ids(got))
	assert.True(t, got[0].At.Equal(entry(7).At))
	assert.Equal(t, 1, store.loads)
}

func TestOrderedList_EmptyListIsCached(t *testing.T) {
	backend, _ := newTestBackend(t)
	l := NewOrderedList(backend, KindFeed, 5, time.Hour)
	store := &listStore{rows: map[string][]Entry{}}
	ctx := context.Background()

	_, _, err := l.Load(ctx, "nobody", store.load)
	require.NoError(t, err)
	got, src, err := l.Load(ctx, "nobody", store.load)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, 1, store.loads)
}

func TestOrderedList_PushTrimsAndOrdersByTime(t *testing.T) {
	backend, _ := newTestBackend(t)
	l := NewOrderedList(backend, KindFeed, 3, time.Hour)
	store := &listStore{rows: map[string][]Entry{}}
	ctx := context.Background()
	_, _, err := l.Load(ctx, "u1", store.load)
	require.NoError(t, err)

	// 乱序到达，按时间排序并只保留最新 3 条
	for _, i := range []int{4, 1, 9, 6, 2} {
		ok, err := l.Push(ctx, "u1", entry(i))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	// 重复写入幂等
	_, err = l.Push(ctx, "u1", entry(9))
	require.NoError(t, err)

	got, src, err := l.Load(ctx, "u1", store.load)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, []string{"p009", "p006", "p004"}, ids(got))
}

func TestOrderedList_PushWithoutCacheIsNoop(t *testing.T) {
	backend, mr := newTestBackend(t)
	l := NewOrderedList(backend, KindFeed, 3, time.Hour)

	ok, err := l.Push(context.Background(), "u1", entry(1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(Key(KindFeed, "u1")))
}

func TestOrderedList_PushDuringLoadAbortsFill(t *testing.T) {
	backend, mr := newTestBackend(t)
	l := NewOrderedList(backend, KindFeed, 5, time.Hour)
	store := &listStore{rows: map[string][]Entry{}}
	store.add("u1", entry(1))
	ctx := context.Background()

	// 读取存储之后、回填之前，另一写者写入新条目
	store.hook = func() {
		store.hook = nil
		store.add("u1", entry(2))
		_, err := l.Push(ctx, "u1", entry(2))
		require.NoError(t, err)
	}
	got, _, err := l.Load(ctx, "u1", store.load)
	require.NoError(t, err)
	assert.Equal(t, []string{"p001"}, ids(got))
	assert.False(t, mr.Exists(Key(KindFeed, "u1")), "snapshot missing p002 must not be cached")

	got, src, err := l.Load(ctx, "u1", store.load)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, src)
	assert.Equal(t, []string{"p002", "p001"}, ids(got))
}

func TestOrderedList_ConcurrentPushKeepsNewest(t *testing.T) {
	backend, _ := newTestBackend(t)
	l := NewOrderedList(backend, KindFeed, 10, time.Hour)
	store := &listStore{rows: map[string][]Entry{}}
	ctx := context.Background()
	_, _, err := l.Load(ctx, "u1", store.load)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Push(ctx, "u1", entry(i))
		}(i)
	}
	wg.Wait()

	got, _, err := l.Load(ctx, "u1", store.load)
	require.NoError(t, err)
	want := make([]string, 0, 10)
	for i := 49; i >= 40; i-- {
		want = append(want, entry(i).ID)
	}
	assert.Equal(t, want, ids(got))
}

func TestOrderedList_InvalidateAndOutage(t *testing.T) {
	backend, mr := newTestBackend(t)
	l := NewOrderedList(backend, KindFeed, 5, time.Hour)
	store := &listStore{rows: map[string][]Entry{}}
	store.add("u1", entry(1))
	ctx := context.Background()

	_, _, err := l.Load(ctx, "u1", store.load)
	require.NoError(t, err)
	require.NoError(t, l.Invalidate(ctx, "u1"))
	assert.False(t, mr.Exists(Key(KindFeed, "u1")))

	mr.Close()
	got, src, err := l.Load(ctx, "u1", store.load)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, src)
	assert.Equal(t, []string{"p001"}, ids(got))

	_, err = l.Push(ctx, "u1", entry(2))
	assert.Error(t, err)
}
