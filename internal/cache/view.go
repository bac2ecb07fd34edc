package cache

// Source 对象来自缓存还是刚从存储加载
type Source uint8

const (
	SourceStore Source = iota + 1
	SourceCache
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceStore:
		return "store"
	default:
		return "none"
	}
}

// View 对缓存命中和实时加载两种来源提供统一读取接口，调用方无需区分。
// Found() == false 表示实体不存在。
type View[T any] struct {
	value  *T
	source Source
}

func CachedView[T any](v *T) View[T] { return View[T]{value: v, source: SourceCache} }
func LiveView[T any](v *T) View[T]   { return View[T]{value: v, source: SourceStore} }

// Absent 实体不存在
func Absent[T any]() View[T] { return View[T]{} }

func (v View[T]) Value() *T      { return v.value }
func (v View[T]) Found() bool    { return v.value != nil }
func (v View[T]) Source() Source { return v.source }
