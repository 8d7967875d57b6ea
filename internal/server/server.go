// Package server contains the HTTP and WebSocket surface of the chat gateway.
package server

import (
	"context"
	"fmt"
	"time"

	_ "lingochat/docs" // swagger docs
	"lingochat/internal/cache"
	"lingochat/internal/config"
	"lingochat/internal/database"
	"lingochat/internal/featureflags"
	"lingochat/internal/middleware"
	"lingochat/internal/models"
	"lingochat/internal/notifications"
	"lingochat/internal/repository"
	"lingochat/internal/service"
	"lingochat/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	verifier       *middleware.TokenVerifier
	featureFlags   *featureflags.Manager

	userRepo repository.UserRepository
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository

	conversations *service.ConversationService
	messages      *service.MessageService
	uploads       *storage.LocalStore

	router     *notifications.Router
	registry   *notifications.Registry
	dispatcher *notifications.Dispatcher
	mirror     *notifications.PresenceMirror
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; tickets, rate limits and the presence mirror are
// then unavailable.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("lingochat"),
		verifier:       middleware.NewTokenVerifier(cfg),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		userRepo:       repository.NewUserRepository(db),
		convRepo:       repository.NewConversationRepository(db),
		msgRepo:        repository.NewMessageRepository(db),
		uploads:        storage.NewLocalStore(cfg.UploadDir, cfg.UploadMaxBytes),
	}

	s.conversations = service.NewConversationService(s.convRepo, s.msgRepo, s.userRepo)
	s.messages = service.NewMessageService(s.convRepo, s.msgRepo, s.conversations, s.uploads)

	s.mirror = notifications.NewPresenceMirror(redisClient, notifications.PresenceMirrorConfig{})
	s.router = notifications.NewRouter(s.conversations)
	s.registry = notifications.NewRegistry(&wsAuthenticator{verifier: s.verifier, redis: redisClient}, s.router,
		notifications.RegistryConfig{
			MaxConnsPerUser: cfg.WSMaxConnsPerUser,
			MaxTotalConns:   cfg.WSMaxTotalConns,
			Mirror:          s.mirror,
			MirrorEnabled: func(userID string) bool {
				return s.featureFlags.Enabled(featureflags.PresenceMirror, userID)
			},
		})
	s.dispatcher = notifications.NewDispatcher(s.router, s.conversations)

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New(helmet.Config{
		// uploaded attachments are embedded by the web client on another origin
		CrossOriginResourcePolicy: "cross-origin",
	}))
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.Env == "test"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewRateLimitedError("Too many requests, please try again later."))
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	app.Static(storage.URLPrefix, s.uploads.Dir(), fiber.Static{MaxAge: 3600})

	api := app.Group("/api")
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{Title: "lingochat metrics"}))
	api.Get("/swagger/*", swagger.HandlerDefault)

	auth := middleware.AuthRequired(s.verifier)

	api.Get("/feature-flags", auth, s.GetFeatureFlags)
	api.Post("/ws/ticket", auth, middleware.RateLimit(s.redis, 30, time.Minute, "ws_ticket"), s.IssueWSTicket)
	api.Get("/ws/chat", s.WebSocketUpgrade(), s.WebSocketChatHandler())

	chat := api.Group("/chat", auth)
	chat.Get("/conversations", s.ListConversations)
	chat.Get("/conversations/:id", s.GetConversation)
	chat.Post("/with/:otherUserId", s.OpenDirectConversation)
	chat.Post("/groups", s.CreateGroup)

	// specific /:id/:resource routes before the generic /:id route
	chat.Get("/conversations/:id/messages", s.ListMessages)
	chat.Post("/conversations/:id/messages", middleware.RateLimit(
		s.redis, sendLimit, time.Minute, "send_chat"), s.SendMessage)
	chat.Post("/conversations/:id/read", s.MarkRead)
	chat.Patch("/conversations/:id/nickname", s.SetNickname)
	chat.Patch("/conversations/:id/nicknames/:targetUserId", s.SetNicknameForMember)
	chat.Get("/conversations/:id/members", s.ListMembers)
	chat.Post("/conversations/:id/members", s.AddMembers)
	chat.Delete("/conversations/:id/members/:userId", s.RemoveMember)
	chat.Patch("/conversations/:id/members/:userId/role", s.SetMemberRole)
	chat.Post("/conversations/:id/owner", s.TransferOwnership)
	chat.Post("/conversations/:id/leave", s.LeaveConversation)
	chat.Patch("/conversations/:id", s.UpdateTitle)

	chat.Patch("/messages/:id", s.EditMessage)
	chat.Delete("/messages/:id", s.RevokeMessage)
	chat.Post("/messages/:id/hide", s.HideMessage)
	chat.Post("/messages/:id/reactions", s.ToggleReaction)

	chat.Post("/uploads", middleware.RateLimit(s.redis, uploadLimit, time.Minute, "chat_upload"), s.UploadAttachment)
	chat.Get("/presence/:userId", s.GetPresence)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional: its
// absence degrades tickets and rate limits but does not fail readiness.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"connections": s.registry.Total(),
		"time":        time.Now().UTC(),
	})
}

// App builds the Fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:   "lingochat",
		BodyLimit: int(s.uploads.MaxBytes()) + 1024*1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err.Error())
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// Start starts the server
func (s *Server) Start() error {
	app := s.App()
	s.mirror.Start()

	if s.verifier.Soft() {
		middleware.Logger.Warn("websocket and HTTP auth accept unverified tokens")
	}
	middleware.Logger.Info("Server starting", "port", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", "error", err.Error())
		}
	}

	if err := s.registry.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down chat registry", "error", err.Error())
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", "error", cerr.Error())
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", "error", rerr.Error())
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
