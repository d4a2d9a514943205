package app

import (
	"stepik_analytics_backend/docs"
	"stepik_analytics_backend/internal/config"
	"stepik_analytics_backend/internal/middleware"
	"stepik_analytics_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	// 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/courses", c.course.GetCourses)
		authGroup.POST("/courses", c.course.AddCourse)
		authGroup.GET("/courses/:id", c.course.GetCourse)
		authGroup.DELETE("/courses/:id", c.course.DeleteCourse)
		authGroup.POST("/courses/:id/sync", c.course.SyncCourse)
		authGroup.GET("/courses/:id/metrics", c.metrics.GetMetrics)

		authGroup.GET("/sync-runs", c.syncRun.GetSyncRuns)
	}
}
