package pagination

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 游标或 page_size 无法解析，属于客户端错误，不做默认值兜底
var (
	ErrInvalidCursor   = errors.New("invalid pagination cursor")
	ErrInvalidPageSize = errors.New("invalid page_size")
)

const (
	ParamCreatedAtGT = "created_at__gt"
	ParamCreatedAtLT = "created_at__lt"
	ParamPageSize    = "page_size"

	DefaultPageSize = 20
)

// Params 单次翻页请求
//
//	After != nil  下拉刷新：created_at > After，全部返回，不分页
//	Before != nil 向后翻页：created_at < Before，最多 PageSize 条
//	都为空        第一页
type Params struct {
	After    *time.Time
	Before   *time.Time
	PageSize int
}

// Refresh 是否为下拉刷新模式
func (p Params) Refresh() bool { return p.After != nil }

// Parse 从 query 读取游标参数。get 一般是 gin.Context.Query。
// 两个游标同时出现时 created_at__gt 优先。
func Parse(get func(key string) string, defaultSize, maxSize int) (Params, error) {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	p := Params{PageSize: defaultSize}

	if raw := get(ParamPageSize); raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		p.PageSize = n
	}
	if maxSize > 0 && p.PageSize > maxSize {
		p.PageSize = maxSize
	}

	if raw := get(ParamCreatedAtGT); raw != "" {
		t, err := ParseTime(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: %s=%q", ErrInvalidCursor, ParamCreatedAtGT, raw)
		}
		p.After = &t
		return p, nil
	}
	if raw := get(ParamCreatedAtLT); raw != "" {
		t, err := ParseTime(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: %s=%q", ErrInvalidCursor, ParamCreatedAtLT, raw)
		}
		p.Before = &t
	}
	return p, nil
}

// ParseTime 解析 RFC3339（可带纳秒）时间戳并转为 UTC。
// query 中未转义的 '+' 会被解码成空格，这里还原。
func ParseTime(raw string) (time.Time, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), " ", "+")
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatTime 生成可回传的游标值
func FormatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
