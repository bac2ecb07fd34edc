package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/pkg/response"
)

// HealthCheck 依赖探活，返回 nil 表示正常
type HealthCheck func(ctx context.Context) error

type Handler struct {
	relService  service.RelationshipService
	feedService service.FeedService
	publisher   *service.Publisher
	graph       *service.GraphCache

	pageSize    int
	maxPageSize int
	checks      map[string]HealthCheck
}

type Options struct {
	PageSize    int
	MaxPageSize int
	Checks      map[string]HealthCheck
}

func New(rel service.RelationshipService, feed service.FeedService, pub *service.Publisher, graph *service.GraphCache, opts Options) *Handler {
	if opts.PageSize <= 0 {
		opts.PageSize = pagination.DefaultPageSize
	}
	if opts.MaxPageSize < opts.PageSize {
		opts.MaxPageSize = opts.PageSize
	}
	return &Handler{
		relService:  rel,
		feedService: feed,
		publisher:   pub,
		graph:       graph,
		pageSize:    opts.PageSize,
		maxPageSize: opts.MaxPageSize,
		checks:      opts.Checks,
	}
}

// pageParams 解析 created_at__gt / created_at__lt / page_size
func (h *Handler) pageParams(c *gin.Context) (pagination.Params, bool) {
	p, err := pagination.Parse(c.Query, h.pageSize, h.maxPageSize)
	if err != nil {
		response.BadRequest(c, err.Error())
		return p, false
	}
	return p, true
}

// viewer 当前用户取自 viewer_id 查询参数，缺省为匿名
func (h *Handler) viewer(c *gin.Context) *service.Viewer { return h.viewerOr(c, "") }

func (h *Handler) viewerOr(c *gin.Context, fallback string) *service.Viewer {
	id := c.Query("viewer_id")
	if id == "" {
		id = fallback
	}
	return service.NewViewer(h.graph, id)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pagination.ErrInvalidCursor),
		errors.Is(err, pagination.ErrInvalidPageSize),
		errors.Is(err, service.ErrFollowSelf),
		errors.Is(err, service.ErrEmptyContent):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFound(c, err.Error())
	default:
		_ = c.Error(err)
		response.InternalError(c, err)
	}
}

// Health 存活与依赖检查
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": result})
}
