// Package server exposes inference sessions, model metadata and stored runs over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/inference"
	"github.com/opengraphlabs/layerinfer/internal/middleware/ratelimit"
	"github.com/opengraphlabs/layerinfer/internal/modelquery"
	"github.com/opengraphlabs/layerinfer/internal/runstore"
	"github.com/opengraphlabs/layerinfer/internal/session"
)

// Sessions is the session manager surface the server drives.
type Sessions interface {
	Open(ctx context.Context, modelID string, opts session.OpenOptions) (session.Info, error)
	Run(sessionID, input string, mode inference.Mode) (uint64, error)
	Step(ctx context.Context, sessionID string) (inference.Snapshot, error)
	Info(sessionID string) (session.Info, error)
	Close(sessionID string) error
}

// Runs reads stored runs.
type Runs interface {
	Get(ctx context.Context, id uuid.UUID) (*runstore.Run, error)
	ListByModel(ctx context.Context, modelID string, limit int) ([]*runstore.Run, error)
	Ping(ctx context.Context) error
}

// Streamer upgrades a request into a websocket subscribed to topics.
type Streamer interface {
	ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request, clientID string, topics ...string) error
}

// Config tunes the router.
type Config struct {
	ServiceName    string
	AllowedOrigins []string
	DefaultMode    inference.Mode
}

// Server represents the HTTP server
type Server struct {
	ctx      context.Context
	cfg      Config
	logger   *zap.Logger
	sessions Sessions
	models   modelquery.Source
	runs     Runs
	stream   Streamer
	limiter  ratelimit.Limiter
}

// Option wires optional collaborators.
type Option func(*Server)

// WithRunLimiter throttles run and step submissions per client.
func WithRunLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// NewServer creates a server. ctx bounds long-lived work started by requests, such as
// websocket streams, and should end at shutdown.
func NewServer(ctx context.Context, cfg Config, logger *zap.Logger, sessions Sessions, models modelquery.Source,
	runs Runs, stream Streamer, opts ...Option) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "layerinfer"
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = inference.ModeSingleLayer
	}
	s := &Server{
		ctx:      ctx,
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		models:   models,
		runs:     runs,
		stream:   stream,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router creates a new HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware(s.cfg.ServiceName))
	router.Use(s.corsMiddleware())
	router.Use(metricsMiddleware())
	router.Use(problemMiddleware())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		models := v1.Group("/models")
		{
			models.GET("", s.handleListModels)
			models.GET("/:id", s.handleGetModel)
			models.GET("/:id/runs", s.handleListModelRuns)
		}

		submit := []gin.HandlerFunc{}
		if s.limiter != nil {
			submit = append(submit, ratelimit.Middleware(s.limiter, s.logger))
		}

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", s.handleOpenSession)
			sessions.GET("/:id", s.handleGetSession)
			sessions.DELETE("/:id", s.handleCloseSession)
			sessions.POST("/:id/runs", append(submit, s.handleStartRun)...)
			sessions.POST("/:id/step", append(submit, s.handleStep)...)
			sessions.GET("/:id/stream", s.handleStream)
		}

		v1.GET("/runs/:id", s.handleGetRun)
	}

	return router
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	if len(s.cfg.AllowedOrigins) == 0 || contains(s.cfg.AllowedOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.cfg.AllowedOrigins
	}
	return cors.New(cfg)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
