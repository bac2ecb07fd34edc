package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/pkg/response"
)

type followRequest struct {
	FromUserID string `json:"from_user_id" binding:"required"`
	ToUserID   string `json:"to_user_id" binding:"required"`
}

// Follow 建立关注，重复关注返回 duplicate=true
// @Summary 关注用户
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body followRequest true "关注信息"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/relations/follow [post]
func (h *Handler) Follow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.relService.Follow(c.Request.Context(), req.FromUserID, req.ToUserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{"success": true, "duplicate": res.Duplicate})
}

// Unfollow 取消关注
// @Summary 取消关注
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body followRequest true "取消关注信息"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/relations/unfollow [post]
func (h *Handler) Unfollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	deleted, err := h.relService.Unfollow(c.Request.Context(), req.FromUserID, req.ToUserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"success": true, "deleted": deleted})
}

// ListFollowing 查询某用户关注的人
// @Summary 查询关注列表
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param viewer_id query string false "当前用户ID"
// @Param created_at__lt query string false "翻页游标"
// @Param created_at__gt query string false "刷新游标"
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response
// @Router /api/v1/relations/{user_id}/following [get]
func (h *Handler) ListFollowing(c *gin.Context) {
	p, ok := h.pageParams(c)
	if !ok {
		return
	}
	page, err := h.relService.ListFollowing(c.Request.Context(), h.viewer(c), c.Param("user_id"), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, page)
}

// ListFollowers 查询某用户的粉丝
// @Summary 查询粉丝列表
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param viewer_id query string false "当前用户ID"
// @Param created_at__lt query string false "翻页游标"
// @Param created_at__gt query string false "刷新游标"
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response
// @Router /api/v1/relations/{user_id}/followers [get]
func (h *Handler) ListFollowers(c *gin.Context) {
	p, ok := h.pageParams(c)
	if !ok {
		return
	}
	page, err := h.relService.ListFollowers(c.Request.Context(), h.viewer(c), c.Param("user_id"), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, page)
}
