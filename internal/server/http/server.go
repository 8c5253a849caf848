package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"conductor/internal/config"
	"conductor/internal/logging"
	"conductor/internal/orchestrator"
	"conductor/internal/ports"
	"conductor/internal/signals"
	"conductor/internal/task"
)

// Dependencies wires the HTTP surface to the core and collaborators.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Signals      *signals.Handler
	Registry     *task.Registry
	Backend      ports.ExecutionBackend
	Workspace    ports.WorkspaceStore
	Chat         ports.ChatService
	Gatherer     prometheus.Gatherer
	Tracer       trace.Tracer
	Logger       logging.Logger
}

// Server exposes the task and channel operations over HTTP.
type Server struct {
	config config.ServerConfig
	deps   Dependencies
	logger logging.Logger

	engine     *gin.Engine
	httpServer *http.Server

	// Short-lived read cache for the status endpoint's recent events, so
	// polling agents do not hammer the workspace service.
	recentEvents *expirable.LRU[string, []ports.WorkspaceEvent]
}

const recentEventsTTL = 5 * time.Second

// New builds the router and wraps it in an http.Server bound to cfg.Addr.
func New(cfg config.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if deps.Signals == nil {
		return nil, fmt.Errorf("signal handler is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("task registry is required")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		config:       cfg,
		deps:         deps,
		logger:       logging.OrNop(deps.Logger),
		engine:       engine,
		recentEvents: expirable.NewLRU[string, []ports.WorkspaceEvent](256, nil, recentEventsTTL),
	}
	if deps.Tracer != nil {
		engine.Use(s.tracingMiddleware())
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	metricsHandler := promhttp.Handler()
	if s.deps.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})
	}
	s.engine.GET("/metrics", gin.WrapH(metricsHandler))

	api := s.engine.Group("/api")

	tasks := api.Group("/tasks")
	{
		tasks.POST("", s.handleSubmitTask)
		tasks.GET("", s.handleListTasks)
		tasks.GET("/:id", s.handleGetTask)
		tasks.POST("/:id/signals", s.handleTaskSignal)
		tasks.GET("/:id/files", s.handleTaskFiles)
		tasks.GET("/:id/file", s.handleTaskFile)
	}

	channels := api.Group("/channels")
	{
		channels.GET("", s.handleListChannels)
		channels.GET("/:id", s.handleGetChannel)
		channels.POST("/:id/messages", s.handleChannelMessage)
		channels.POST("/:id/signals", s.handleChannelSignal)
	}
}

func (s *Server) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := s.deps.Tracer.Start(c.Request.Context(),
			fmt.Sprintf("http %s %s", c.Request.Method, c.FullPath()),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
			))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

// Engine exposes the router, used by handler tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening on %s", s.config.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}
