// Package server exposes the governance core over HTTP: event ingest, the
// kernel tick contract, the ledger and violation read API, and the
// JWT-guarded admin audit surface.
package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegis-gov/aegis/internal/feed"
	"github.com/aegis-gov/aegis/internal/judge"
	"github.com/aegis-gov/aegis/internal/ledger"
	"github.com/aegis-gov/aegis/internal/watchdog"
)

// Config carries the HTTP-facing knobs read from the daemon configuration.
type Config struct {
	CORSOrigins  []string
	RateLimitRPS int
	AdminSecret  string
	IssuerURL    string
}

// Server wires the governance components to their HTTP handlers.
type Server struct {
	store  ledger.Store
	feed   feed.Recorder
	kernel *watchdog.Integration
	engine *judge.Engine
	tokens *TokenIssuer
	cfg    Config
	logger *zap.Logger
}

// New creates a Server and hooks the watchdog callback registry up to the
// Prometheus counters, so every violation and the halt transition are
// observable without polling.
func New(store ledger.Store, recorder feed.Recorder, kernel *watchdog.Integration, engine *judge.Engine, cfg Config, logger *zap.Logger) *Server {
	s := &Server{
		store:  store,
		feed:   recorder,
		kernel: kernel,
		engine: engine,
		tokens: NewTokenIssuer(cfg.AdminSecret, cfg.IssuerURL),
		cfg:    cfg,
		logger: logger,
	}

	kernel.RegisterViolationCallback(func(v judge.Violation) {
		aegisViolationsTotal.WithLabelValues(v.Severity.String(), v.Rule).Inc()
	})
	kernel.RegisterHaltCallback(func() {
		aegisHaltRequested.Set(1)
	})

	return s
}

// Router assembles the gin engine with CORS, rate limiting, and metrics
// middleware, and mounts all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(PrometheusMiddleware())

	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  s.cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Authorization", "Content-Type"},
			ExposeHeaders: []string{"Retry-After"},
			MaxAge:        12 * time.Hour,
		}))
	}
	if s.cfg.RateLimitRPS > 0 {
		r.Use(RateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitRPS*2, s.logger))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", MetricsHandler())

	v1 := r.Group("/v1")
	{
		v1.POST("/events", s.AppendEvent)
		v1.GET("/ledger", s.LedgerOverview)
		v1.GET("/ledger/verify", s.VerifyChain)
		v1.GET("/ledger/events", s.ListEvents)
		v1.GET("/ledger/events/:seq", s.GetEvent)
		v1.GET("/violations", s.ListViolations)
		v1.GET("/rules", s.ListRules)
		v1.GET("/watchdog", s.WatchdogState)
		v1.POST("/kernel/tick", s.KernelTick)

		admin := v1.Group("/admin")
		admin.POST("/token", s.IssueAdminToken)
		admin.POST("/audit", AdminGuard(s.tokens), s.RunAudit)
	}

	return r
}
