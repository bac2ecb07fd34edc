package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/pkg/response"
)

type publishRequest struct {
	AuthorID string `json:"author_id" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

// Publish 发帖并触发扇出
// @Summary 发帖
// @Tags 时间线
// @Accept json
// @Produce json
// @Param request body publishRequest true "帖子"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) Publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.publisher.Publish(c.Request.Context(), req.AuthorID, req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, res)
}

// ListFeed 首页时间线
// @Summary 时间线
// @Tags 时间线
// @Param user_id path string true "用户ID"
// @Param created_at__lt query string false "翻页游标"
// @Param created_at__gt query string false "刷新游标"
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/users/{user_id}/feed [get]
func (h *Handler) ListFeed(c *gin.Context) {
	p, ok := h.pageParams(c)
	if !ok {
		return
	}
	userID := c.Param("user_id")
	page, err := h.feedService.ListFeed(c.Request.Context(), h.viewerOr(c, userID), userID, p)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, page)
}

// ListUserPosts 某用户发布的帖子
// @Summary 用户帖子
// @Tags 时间线
// @Param user_id path string true "用户ID"
// @Param viewer_id query string false "当前用户ID"
// @Param created_at__lt query string false "翻页游标"
// @Param created_at__gt query string false "刷新游标"
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response
// @Router /api/v1/users/{user_id}/posts [get]
func (h *Handler) ListUserPosts(c *gin.Context) {
	p, ok := h.pageParams(c)
	if !ok {
		return
	}
	page, err := h.feedService.ListUserPosts(c.Request.Context(), h.viewer(c), c.Param("user_id"), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, page)
}
