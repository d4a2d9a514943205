package controller

import (
	"errors"
	"stepik_analytics_backend/internal/service"
	"stepik_analytics_backend/internal/util"
	"time"

	"github.com/gin-gonic/gin"
)

type MetricsController struct {
	MetricsService *service.MetricsService
	CourseService  *service.CourseService
}

func NewMetricsController(metricsService *service.MetricsService, courseService *service.CourseService) *MetricsController {
	return &MetricsController{
		MetricsService: metricsService,
		CourseService:  courseService,
	}
}

// GetMetrics godoc
// @Summary 课程指标
// @Description 返回指定窗口的汇总统计、图表序列和环比对比
// @Tags 指标
// @Produce  json
// @Param   id path string true "课程ID"
// @Param   range query string false "窗口类型: day/week/month/year" default(week)
// @Param   anchor_date query string false "锚点日期 YYYY-MM-DD，默认今天"
// @Success 200 {object} util.Response{data=service.MetricsResponse} "成功"
// @Failure 404 {object} util.Response "课程不存在"
// @Security ApiKeyAuth
// @Router /api/courses/{id}/metrics [get]
func (c *MetricsController) GetMetrics(ctx *gin.Context) {
	course, err := c.CourseService.GetByID(ctx.Param("id"))
	if err != nil {
		if errors.Is(err, util.ErrCourseNotFound) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}

	kind := util.ParseRangeKind(ctx.DefaultQuery("range", "week"))

	anchor := time.Now().UTC()
	if raw := ctx.Query("anchor_date"); raw != "" {
		parsed, err := time.Parse(util.DateFormat, raw)
		if err != nil {
			util.BadRequest(ctx, "anchor_date 格式应为 YYYY-MM-DD")
			return
		}
		anchor = parsed
	}

	metrics, err := c.MetricsService.GetMetrics(ctx.Request.Context(), course.ID, kind, anchor)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, metrics)
}
