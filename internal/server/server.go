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

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/service"
	"github.com/castline/castline/internal/service/publisher"
	"github.com/castline/castline/internal/service/publisher/instagram"
	"github.com/castline/castline/internal/service/publisher/youtube"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	JobStore   *service.JobStore
	FastQueue  *service.FastQueue
	Accounts   *service.AccountStore
	Dispatcher *service.Dispatcher
	Poller     *service.Poller
	Refresher  *service.TokenRefresher
	Scheduler  *service.Scheduler
	Auth       *service.AuthService

	processingTimeout time.Duration
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize fast queue (optional accelerator, nil client degrades safely)
	redisClient := service.NewRedisClient(&cfg.Redis, logger)
	fastQueue := service.NewFastQueue(redisClient, &cfg.Redis, logger)

	// Initialize stores
	jobStore := service.NewJobStore(db, logger)
	accounts := service.NewAccountStore(db, logger)

	// Register platform publishers
	manager := publisher.NewManager(logger)
	if err := manager.Register(instagram.NewPublisher(cfg.Platforms.Instagram, logger)); err != nil {
		return nil, err
	}
	if err := manager.Register(youtube.NewPublisher(cfg.Platforms.YouTube, logger)); err != nil {
		return nil, err
	}

	processingTimeout, err := time.ParseDuration(cfg.Dispatcher.ProcessingTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid processing timeout %q: %w", cfg.Dispatcher.ProcessingTimeout, err)
	}

	dispatcher := service.NewDispatcher(jobStore, fastQueue, accounts, manager, logger)
	poller := service.NewPoller(dispatcher, jobStore, accounts, manager, processingTimeout, logger)

	lookahead, err := time.ParseDuration(cfg.Refresher.Lookahead)
	if err != nil {
		return nil, fmt.Errorf("invalid refresher lookahead %q: %w", cfg.Refresher.Lookahead, err)
	}
	refresher := service.NewTokenRefresher(accounts, lookahead, logger)
	refresher.Register(instagram.NewTokenRefresher(cfg.Platforms.Instagram.GraphBaseURL, logger))
	refresher.Register(youtube.NewTokenRefresher(
		cfg.Platforms.YouTube.TokenURL,
		cfg.Platforms.YouTube.ClientID,
		cfg.Platforms.YouTube.ClientSecret,
		logger))

	scheduler := service.NewScheduler(&cfg.Dispatcher, &cfg.Refresher, dispatcher, poller, refresher, logger)
	auth := service.NewAuthService(logger, cfg.Server.TriggerSecret, cfg.Server.TOTPSecret)

	// Create router
	router := gin.New()

	srv := &Server{
		Config:            cfg,
		DB:                db,
		Redis:             redisClient,
		Router:            router,
		Logger:            logger,
		JobStore:          jobStore,
		FastQueue:         fastQueue,
		Accounts:          accounts,
		Dispatcher:        dispatcher,
		Poller:            poller,
		Refresher:         refresher,
		Scheduler:         scheduler,
		Auth:              auth,
		processingTimeout: processingTimeout,
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
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

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

	// API routes
	api := s.Router.Group("/api/v1")
	{
		// Cron trigger routes, shared-secret authenticated
		cron := api.Group("/cron")
		cron.Use(s.Auth.TriggerAuthMiddleware())
		{
			cron.POST("/dispatch", s.handleCronDispatch)
			cron.POST("/poll", s.handleCronPoll)
			cron.POST("/refresh", s.handleCronRefresh)
		}

		// Post scheduling routes
		posts := api.Group("/posts")
		posts.Use(s.requireOwner())
		{
			posts.POST("", s.handleCreatePost)
			posts.GET("", s.handleListPosts)
			posts.GET("/:id", s.handleGetPost)
			posts.POST("/:id/cancel", s.handleCancelPost)
			posts.POST("/:id/retry", s.handleRetryPost)
		}

		api.GET("/stats", s.handleGetStats)
	}
}

// requireOwner resolves the acting user. Session handling lives in front of
// this service; the gateway forwards the authenticated user id in a header.
func (s *Server) requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetHeader("X-User-ID")
		if ownerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		c.Set("owner_id", ownerID)
		c.Next()
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
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

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
