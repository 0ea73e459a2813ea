package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/civilday"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/config"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/db"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/live"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/state"
)

// NetworkState is the part of the state service the HTTP layer uses.
type NetworkState interface {
	Snapshot() state.View
	Refresh(ctx context.Context) error
	RefreshAsync(reason string)
	Subscribe() (uint64, <-chan state.View)
	Unsubscribe(id uint64)
}

// MeasurementHistory reads stored measurements for a point.
type MeasurementHistory interface {
	ListMeasurements(ctx context.Context, q db.MeasurementQuery) ([]network.Measurement, error)
}

// Deps are the collaborators a Server needs.
type Deps struct {
	State    NetworkState
	History  MeasurementHistory
	Live     *live.Interpolator
	Calendar *civilday.Calendar
	Logger   *zap.Logger
}

// Server bundles router and dependencies for the REST API.
type Server struct {
	cfg      config.Config
	state    NetworkState
	history  MeasurementHistory
	live     *live.Interpolator
	calendar *civilday.Calendar
	logger   *zap.Logger
	engine   *gin.Engine
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	engine.Use(corsMiddleware())

	server := &Server{
		cfg:      cfg,
		state:    deps.State,
		history:  deps.History,
		live:     deps.Live,
		calendar: deps.Calendar,
		logger:   logger,
		engine:   engine,
	}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/readyz", s.handleReady)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.registerV1Routes()
}

// handleReady reports ready once any tree, cached or fetched, can be served.
func (s *Server) handleReady(c *gin.Context) {
	view := s.state.Snapshot()
	if !view.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "loading",
			"loading": view.Loading,
			"error":   view.Error,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "from_cache": view.FromCache})
}

// bearerAuthMiddleware accepts the token in the Authorization header, or in
// the access_token query parameter for websocket clients that cannot set
// headers.
func bearerAuthMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		var token string
		switch {
		case strings.HasPrefix(auth, "Bearer "):
			token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		case auth == "":
			token = c.Query("access_token")
		}
		if token == "" || token != expected {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", "v1")
		c.Next()
	}
}

// requestLogger replaces gin.Logger with structured access logs.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case path == "/healthz" || path == "/readyz" || path == "/metrics":
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
