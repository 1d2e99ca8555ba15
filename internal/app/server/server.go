package server

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerPulse/internal/app/service"
	inthttp "github.com/sifan077/PowerPulse/internal/http/handler"
	"github.com/sifan077/PowerPulse/internal/http/middleware"
	httpUtil "github.com/sifan077/PowerPulse/internal/http/util"
	"go.uber.org/zap"
)

const (
	appName     = "PowerPulse"
	readTimeout = 10 * time.Second
	idleTimeout = 60 * time.Second
)

// Dependencies bundles the services and infrastructure the HTTP server needs.
type Dependencies struct {
	Logger     *zap.Logger
	Redis      *redis.Client
	Clicks     service.ClickService
	Stats      service.StatsService
	Dimensions service.DimensionService
	Tickets    *httpUtil.TokenSigner
	Health     map[string]inthttp.HealthCheck

	// RateLimit guards click ingestion; ignored when Redis is nil.
	RateLimit middleware.RateLimitConfig
	// CORSOrigins defaults to "*".
	CORSOrigins []string
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates the HTTP server with middleware and routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               appName,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadTimeout:           readTimeout,
		IdleTimeout:           idleTimeout,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.CORS(s.deps.CORSOrigins...))
	s.app.Use(middleware.Identity())
	s.app.Use(middleware.Logger(s.deps.Logger))
}

func (s *Server) registerRoutes() {
	var limiter fiber.Handler
	if s.deps.Redis != nil {
		cfg := s.deps.RateLimit
		if cfg.MaxRequests <= 0 {
			cfg = middleware.DefaultRateLimitConfig()
		}
		limiter = middleware.RateLimit(s.deps.Redis, cfg, s.deps.Logger)
	}

	healthHandler := inthttp.NewHealthHandler(s.deps.Health)
	healthHandler.Register(s.app)

	apiHandler := inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:        s.deps.Logger,
		Clicks:        s.deps.Clicks,
		Stats:         s.deps.Stats,
		Dimensions:    s.deps.Dimensions,
		Tickets:       s.deps.Tickets,
		IngestLimiter: limiter,
	})
	apiHandler.Register(s.app)
}
