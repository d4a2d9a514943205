package controller

import (
	"context"
	"errors"
	"stepik_analytics_backend/internal/service"
	"stepik_analytics_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type CourseController struct {
	CourseService *service.CourseService
	Collector     *service.CollectorService
}

func NewCourseController(courseService *service.CourseService, collector *service.CollectorService) *CourseController {
	return &CourseController{
		CourseService: courseService,
		Collector:     collector,
	}
}

// GetCourses godoc
// @Summary 课程列表
// @Description 返回所有已登记课程及最近一次同步状态
// @Tags 课程
// @Produce  json
// @Success 200 {object} util.Response{data=[]service.CourseView} "成功"
// @Security ApiKeyAuth
// @Router /api/courses [get]
func (c *CourseController) GetCourses(ctx *gin.Context) {
	courses, err := c.CourseService.GetAll()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, courses)
}

// GetCourse godoc
// @Summary 课程详情
// @Tags 课程
// @Produce  json
// @Param   id path string true "课程ID"
// @Success 200 {object} util.Response{data=service.CourseView} "成功"
// @Failure 404 {object} util.Response "课程不存在"
// @Security ApiKeyAuth
// @Router /api/courses/{id} [get]
func (c *CourseController) GetCourse(ctx *gin.Context) {
	course, err := c.CourseService.GetByID(ctx.Param("id"))
	if err != nil {
		if errors.Is(err, util.ErrCourseNotFound) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, course)
}

// swagger:model AddCourseRequest
type AddCourseRequest struct {
	CourseIDOrURL string `json:"courseIdOrUrl" binding:"required"`
}

// AddCourse godoc
// @Summary 登记课程
// @Description 按Stepik课程ID或URL登记课程并触发首次同步
// @Tags 课程
// @Accept  json
// @Produce  json
// @Param   body body AddCourseRequest true "课程ID或URL"
// @Success 201 {object} util.Response{data=service.CourseView} "创建成功"
// @Failure 400 {object} util.Response "无法解析课程ID或URL"
// @Security ApiKeyAuth
// @Router /api/courses [post]
func (c *CourseController) AddCourse(ctx *gin.Context) {
	var req AddCourseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	course, err := c.CourseService.AddCourse(ctx.Request.Context(), req.CourseIDOrURL)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrInvalidCourseRef), errors.Is(err, util.ErrCourseNotFound):
			util.BadRequest(ctx, "无法添加课程，请检查ID或URL")
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	// 首次同步异步执行，不阻塞当前请求
	go c.Collector.SyncCourse(context.Background(), course.ID)

	util.Created(ctx, course)
}

// DeleteCourse godoc
// @Summary 删除课程
// @Tags 课程
// @Produce  json
// @Param   id path string true "课程ID"
// @Success 200 {object} util.Response "成功"
// @Failure 404 {object} util.Response "课程不存在"
// @Security ApiKeyAuth
// @Router /api/courses/{id} [delete]
func (c *CourseController) DeleteCourse(ctx *gin.Context) {
	if err := c.CourseService.DeleteCourse(ctx.Param("id")); err != nil {
		if errors.Is(err, util.ErrCourseNotFound) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, nil)
}

// SyncCourse godoc
// @Summary 触发课程同步
// @Description 异步启动一次同步，返回202
// @Tags 课程
// @Produce  json
// @Param   id path string true "课程ID"
// @Success 202 {object} util.Response "同步已启动"
// @Failure 404 {object} util.Response "课程不存在"
// @Security ApiKeyAuth
// @Router /api/courses/{id}/sync [post]
func (c *CourseController) SyncCourse(ctx *gin.Context) {
	course, err := c.CourseService.GetByID(ctx.Param("id"))
	if err != nil {
		if errors.Is(err, util.ErrCourseNotFound) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}

	go c.Collector.SyncCourse(context.Background(), course.ID)

	util.Accepted(ctx, gin.H{"message": "同步已启动"})
}
