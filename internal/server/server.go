package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gbpufscar/revfirst-social-sub001/internal/config"
	"github.com/gbpufscar/revfirst-social-sub001/internal/editorial"
	"github.com/gbpufscar/revfirst-social-sub001/internal/service"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
	"github.com/gbpufscar/revfirst-social-sub001/pkg/ratelimit"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Store     store.Store
	Admin     store.Admin
	Queue     *service.QueueService
	Control   *service.ControlService
	Media     *service.MediaService
	Pipelines *service.Router
	Scheduler *service.Scheduler
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gormStore := store.NewGormStore(db)

	windows, err := editorial.ParseDailyWindows(cfg.Editorial.DailyPublishWindowsUTC)
	if err != nil {
		return nil, fmt.Errorf("invalid publish windows: %w", err)
	}
	staleAfter, err := time.ParseDuration(cfg.Ledger.StaleAfter)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger.stale_after: %w", err)
	}

	// Initialize services
	ledger := service.NewLedger(gormStore, logger, staleAfter)
	cooldowns := service.NewCooldownGate(gormStore)
	buckets := ratelimit.NewRegistry(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSecond)

	publishers := service.NewPublisherRegistry(logger)
	for _, pc := range cfg.Publishers {
		if err := publishers.Register(service.NewWebhookPublisher(pc.Channel, pc.Endpoint, pc.Token)); err != nil {
			return nil, err
		}
	}

	queue := service.NewQueueService(
		gormStore,
		cooldowns,
		ledger,
		publishers,
		buckets,
		windows,
		time.Duration(cfg.Editorial.CooldownMinutes)*time.Minute,
		logger,
	)
	control := service.NewControlService(gormStore, ledger, logger)

	openCalls := service.NewWebhookCandidateSource(cfg.Sources.OpenCalls, cfg.Sources.Token)
	trends := service.NewWebhookCandidateSource(cfg.Sources.Trends, cfg.Sources.Token)
	replies := service.NewWebhookCandidateSource(cfg.Sources.Replies, cfg.Sources.Token)

	router := service.NewRouter(ledger, logger)
	pipelines := service.NewPipelines(gormStore, queue, openCalls, trends, replies, logger)
	if err := pipelines.RegisterAll(router); err != nil {
		return nil, err
	}

	var media *service.MediaService
	if cfg.Media.Endpoint != "" {
		objects, err := service.NewMinioStore(&cfg.Media)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize media storage: %w", err)
		}
		provider := service.NewWebhookImageProvider(cfg.Media.ProviderWebhook)
		media = service.NewMediaService(gormStore, provider, objects, logger)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	locks, err := service.NewWorkspaceLockManager(redisClient, time.Duration(cfg.Scheduler.LockTTLSeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lock manager: %w", err)
	}
	scheduler := service.NewScheduler(&cfg.Scheduler, logger, gormStore, router, locks)

	engine := gin.New()

	srv := &Server{
		Config:    cfg,
		DB:        db,
		Router:    engine,
		Logger:    logger,
		Store:     gormStore,
		Admin:     gormStore,
		Queue:     queue,
		Control:   control,
		Media:     media,
		Pipelines: router,
		Scheduler: scheduler,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes, all workspace-scoped
	api := s.Router.Group("/api/v1")
	api.Use(s.authMiddleware())
	{
		queue := api.Group("/queue")
		{
			queue.POST("/items", s.handleEnqueue)
			queue.GET("/items", s.handleListQueueItems)
			queue.GET("/items/:id", s.handleGetQueueItem)
			queue.POST("/items/:id/approve", s.handleApprove)
			queue.POST("/items/:id/reject", s.handleReject)
			queue.POST("/items/:id/execute", s.handleExecuteItem)
			queue.POST("/execute", s.handleExecuteDue)
		}

		pipelines := api.Group("/pipelines")
		{
			pipelines.POST("/:name/run", s.handleRunPipeline)
			pipelines.GET("/runs", s.handleListRuns)
		}

		control := api.Group("/control")
		{
			control.GET("/settings", s.handleGetSettings)
			control.POST("/pause", s.handlePause)
			control.POST("/resume", s.handleResume)
			control.POST("/mode", s.handleSetMode)
		}

		media := api.Group("/media")
		{
			media.POST("/jobs", s.handleCreateMediaJob)
			media.GET("/jobs/:id", s.handleGetMediaJob)
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if !s.Config.Scheduler.Disabled {
		if err := s.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first
	s.Scheduler.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
