package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"stepik_analytics_backend/internal/config"
	"stepik_analytics_backend/internal/controller"
	"stepik_analytics_backend/internal/repository"
	"stepik_analytics_backend/internal/service"
	"stepik_analytics_backend/internal/stepik"
	"stepik_analytics_backend/pkg/database"
	"stepik_analytics_backend/pkg/logger"
	"stepik_analytics_backend/pkg/monitoring"
	"stepik_analytics_backend/pkg/security"
	"stepik_analytics_backend/pkg/tracing"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services

	syncStop chan struct{}
}

type repositories struct {
	user    *repository.UserRepository
	course  *repository.CourseRepository
	metrics *repository.MetricsRepository
	syncRun *repository.SyncRunRepository
}

type services struct {
	auth      *service.AuthService
	course    *service.CourseService
	metrics   *service.MetricsService
	collector *service.CollectorService
}

type controllers struct {
	auth    *controller.AuthController
	course  *controller.CourseController
	metrics *controller.MetricsController
	syncRun *controller.SyncRunController
	health  *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:    repository.NewUserRepository(db),
		course:  repository.NewCourseRepository(db),
		metrics: repository.NewMetricsRepository(db),
		syncRun: repository.NewSyncRunRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	api := stepik.NewClient(cfg.Stepik)

	s.auth = service.NewAuthService(repos.user, cfg)
	s.metrics = service.NewMetricsService(repos.metrics, rdb)
	s.course = service.NewCourseService(repos.course, repos.syncRun, api)
	s.collector = service.NewCollectorService(
		repos.course,
		repos.metrics,
		repos.syncRun,
		api,
		s.metrics,
		cfg.Sync.BackfillDays,
	)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth),
		course:  controller.NewCourseController(s.course, s.collector),
		metrics: controller.NewMetricsController(s.metrics, s.course),
		syncRun: controller.NewSyncRunController(s.course),
		health:  controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 100000
	}
	windowMinutes := cfg.RateLimit.WindowMinutes
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	router.Use(security.RateLimiter(maxRequests, time.Duration(windowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 启动定时同步。每个周期串行同步所有启用的课程，
// 周期之间不重叠：上一轮没跑完时 ticker 信号会被丢弃。
func (a *App) startBackgroundTasks(s *services, cfg *config.Config) {
	if !cfg.Sync.Enabled {
		logger.Log.Info("Scheduled sync disabled")
		return
	}

	interval := time.Duration(cfg.Sync.IntervalMinutes) * time.Minute
	logger.Log.Info("Scheduled sync enabled", zap.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.collector.SyncAllCourses(context.Background())
			case <-a.syncStop:
				return
			}
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if cfg.MigrateOnly {
		logger.Log.Info("Migration completed, exiting (migrate-only mode)")
		os.Exit(0)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// Redis 只做指标缓存，连不上时降级为直查数据库
		logger.Log.Warn("Failed to initialize redis, metrics cache disabled", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		syncStop: make(chan struct{}),
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("stepik-analytics", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, cfg)

	app.startBackgroundTasks(services, cfg)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	close(a.syncStop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
