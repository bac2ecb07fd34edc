package cache

import "fmt"

// Kind 缓存实体类型，是 key 的一部分，不同类型之间不会冲突
type Kind string

const (
	KindUser      Kind = "user"
	KindPost      Kind = "post"
	KindFeed      Kind = "feed"
	KindUserPosts Kind = "posts"
	KindFollowing Kind = "following"
)

// Key 由类型和 owner id 生成缓存 key，如 feed:{42}。
// 花括号是 Redis Cluster 的 hash tag，保证 key 与它的代数 key 落在同一个 slot。
func Key(kind Kind, id string) string {
	return fmt.Sprintf("%s:{%s}", kind, id)
}

func generationKey(key string) string { return "gen:" + key }
