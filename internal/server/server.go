// Package server contains the HTTP and WebSocket surface of the thread API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"colloquy/internal/cache"
	"colloquy/internal/changefeed"
	"colloquy/internal/config"
	"colloquy/internal/database"
	"colloquy/internal/featureflags"
	"colloquy/internal/middleware"
	"colloquy/internal/models"
	"colloquy/internal/observability"
	"colloquy/internal/repository"
	"colloquy/internal/thread"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// metricsMiddleware returns the process-wide HTTP metrics collector.
// fiberprometheus registers on the default registry, so it is built once.
func metricsMiddleware() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New("colloquy")
	})
	return prom
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	flags          *featureflags.Flags
	pgFeed         *changefeed.PostgresFeed
	engines        map[models.ThreadKind]*thread.Engine
}

// NewServer connects to PostgreSQL and Redis and builds a server over them.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	redisClient := cache.NewClient(cfg.RedisURL)

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil. Subscribing to the Redis change feed then fails
// with changefeed.ErrNoRedis, and rate limiting fails open.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	flags, err := featureflags.Parse(cfg.FeatureFlags)
	if err != nil {
		return nil, fmt.Errorf("feature flags: %w", err)
	}

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: metricsMiddleware(),
		flags:          flags,
		engines:        make(map[models.ThreadKind]*thread.Engine),
	}

	// With the Postgres feed, triggers emit notifications, so the repository
	// publishes nothing itself.
	var (
		feed      thread.ChangeFeed
		publisher repository.EventPublisher
	)
	switch cfg.ChangeFeed {
	case config.FeedPostgres:
		server.pgFeed = changefeed.NewPostgresFeed(cfg.DSN())
		feed = server.pgFeed
	default:
		redisFeed := changefeed.NewRedisFeed(redisClient)
		feed = redisFeed
		publisher = redisFeed
	}

	opts := []thread.Option{
		thread.WithFlags(flags),
		thread.WithPageSize(cfg.ThreadPageSize),
		thread.WithCoalesceWindow(cfg.ReloadCoalesceWindow()),
	}
	for _, scope := range models.Scopes() {
		repo := repository.NewCommentRepository(db, scope, publisher)
		server.engines[scope.Kind] = thread.NewEngine(scope, repo, feed, nil, opts...)
	}

	return server, nil
}

// Engine returns the thread engine serving kind.
func (s *Server) Engine(kind models.ThreadKind) (*thread.Engine, bool) {
	e, ok := s.engines[kind]
	return e, ok
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so short-circuited responses still carry
	// CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
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
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
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

	auth := middleware.OptionalAuth(s.config.JWTSecret)
	mutationLimit := func(resource string) fiber.Handler {
		return middleware.RateLimit(s.redis, s.config.Env, resource, s.config.MutationRateLimit, time.Minute)
	}

	api := app.Group("/api", auth)
	api.Get("/me/flags", s.GetMyFlags)

	threads := api.Group("/threads/:kind")
	// Specific routes before the generic /:id ones
	threads.Post("/comments/:commentId/reaction", mutationLimit("reaction"), s.ToggleReaction)
	threads.Get("/:id/comments/:commentId/replies", s.GetReplies)
	threads.Post("/:id/comments/:commentId/replies", mutationLimit("comment"), s.CreateReply)
	threads.Post("/:id/comments", mutationLimit("comment"), s.CreateComment)
	threads.Get("/:id", s.GetThread)

	ws := app.Group("/ws", auth)
	ws.Get("/threads/:kind/:id", s.WebSocketThreadHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	feedStatus := "healthy"
	switch {
	case s.pgFeed != nil && !s.pgFeed.Ready():
		feedStatus = "unhealthy"
	case s.pgFeed == nil && s.redis == nil:
		feedStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || feedStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database":   dbStatus,
			"redis":      redisStatus,
			"changefeed": feedStatus,
		},
		"time": time.Now(),
	})
}

// App builds the Fiber application with middleware and routes installed.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName: "Colloquy Thread API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, err)
			}
			observability.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// Start starts the change feed listener and serves HTTP until shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := s.App()

	if s.pgFeed != nil {
		go s.pgFeed.Run(s.shutdownCtx)
	}

	observability.Logger.Info("server starting",
		slog.String("port", s.config.Port),
		slog.String("change_feed", s.config.ChangeFeed),
	)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	// Closing the HTTP server ends every websocket handler, which deactivates
	// its sync controller on the way out.
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			observability.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			observability.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	observability.Logger.Info("server shutdown complete")
	return nil
}
