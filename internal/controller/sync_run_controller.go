package controller

import (
	"strconv"

	"stepik_analytics_backend/internal/service"
	"stepik_analytics_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type SyncRunController struct {
	CourseService *service.CourseService
}

func NewSyncRunController(courseService *service.CourseService) *SyncRunController {
	return &SyncRunController{CourseService: courseService}
}

// GetSyncRuns godoc
// @Summary 同步历史
// @Description 返回最近的同步记录，可按课程过滤
// @Tags 同步
// @Produce  json
// @Param   course_id query string false "课程ID"
// @Param   limit query int false "条数上限" default(20)
// @Success 200 {object} util.Response "成功"
// @Security ApiKeyAuth
// @Router /api/sync-runs [get]
func (c *SyncRunController) GetSyncRuns(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	runs, err := c.CourseService.GetSyncRuns(ctx.Query("course_id"), limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, runs)
}
