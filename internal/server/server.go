// Package server contains the HTTP and WebSocket handlers for the relay's
// two interfaces: the snapshot REST endpoint and the live push stream.
package server

import (
	"context"
	"errors"
	"log"
	"time"

	"fediwall/internal/config"
	"fediwall/internal/mastodon"
	"fediwall/internal/middleware"
	"fediwall/internal/models"
	"fediwall/internal/normalize"
	"fediwall/internal/relay"
	"fediwall/internal/snapshot"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	pool        *relay.Pool
	snapshotSvc *snapshot.Service
}

// NewServer creates a new server instance with all dependencies wired from
// configuration. The pool is an owned registry handed to the handlers that
// need it, never a package global.
func NewServer(cfg *config.Config, redisClient *redis.Client) *Server {
	resolver := mastodon.NewResolver(middleware.Logger)
	normalizer := normalize.New(cfg.Instance)
	client := mastodon.NewClient(cfg.Instance, cfg.AccessToken)
	banned := cfg.BannedWordList()

	pool := relay.NewPool(cfg.Instance, cfg.AccessToken, banned, resolver, normalizer)
	snapshotSvc := snapshot.NewService(client, normalizer, banned, redisClient,
		time.Duration(cfg.SnapshotTTLSecs)*time.Second)

	prom := fiberprometheus.New("fediwall-relay")

	return &Server{
		config:         cfg,
		redis:          redisClient,
		promMiddleware: prom,
		pool:           pool,
		snapshotSvc:    snapshotSvc,
	}
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests to inject fake pools and snapshot services.
func NewServerWithDeps(cfg *config.Config, redisClient *redis.Client, pool *relay.Pool, snapshotSvc *snapshot.Service) *Server {
	return &Server{
		config:      cfg,
		redis:       redisClient,
		pool:        pool,
		snapshotSvc: snapshotSvc,
	}
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and Trace ID
	app.Use(middleware.ContextMiddleware())

	// Tracing spans per request
	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware runs before anything that can short-circuit so browser
	// clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		MaxAge:       86400, // 24 hours
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Snapshot endpoint
	api.Get("/posts", middleware.RateLimit(s.redis, 60, time.Minute, "posts"), s.GetPosts)

	// Live push stream
	app.Get("/ws/stream", s.StreamUpgrade(), s.WebSocketStreamHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional, so an
// unreachable cache degrades the report without failing it; only local
// conditions can make the relay unready.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	connections, sessions := s.pool.Stats()

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":   "healthy",
		"instance": s.config.Instance,
		"checks": fiber.Map{
			"redis": redisStatus,
		},
		"relay": fiber.Map{
			"upstream_connections": connections,
			"sessions":             sessions,
		},
		"time": time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName: "Fediwall Relay",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return models.RespondWithError(c, fe.Code, fe)
			}
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	// Shutdown the HTTP/WS server
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	// Close every upstream connection; released sessions have their outbound
	// buffers closed, which ends their write pumps.
	if err := s.pool.Shutdown(ctx); err != nil {
		log.Printf("error shutting down relay pool: %v", err)
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Printf("error closing redis client: %v", err)
		}
	}

	return nil
}
