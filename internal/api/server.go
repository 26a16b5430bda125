// Package api exposes the screening engine over HTTP. The surface is
// deliberately thin: request validation beyond field presence, auth and rate
// limiting belong to the gateway in front of this service.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/veridex/screening/internal/config"
	"github.com/veridex/screening/internal/compliance/screening"
)

// Server hosts the screening HTTP endpoints.
type Server struct {
	engine *screening.Engine
	store  *screening.Store
	logger *zap.Logger
	http   *http.Server
}

// NewServer builds the router and HTTP server around the engine.
func NewServer(cfg config.ServerConfig, engine *screening.Engine, store *screening.Store, logger *zap.Logger) *Server {
	s := &Server{
		engine: engine,
		store:  store,
		logger: logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	router.GET("/healthz", s.handleHealth)
	router.GET("/statusz", s.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/screen/address", s.handleScreenAddress)
	v1.POST("/screen/name", s.handleScreenName)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type screenAddressRequest struct {
	Address string `json:"address" binding:"required"`
}

type screenNameRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleScreenAddress(c *gin.Context) {
	var req screenAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	res, err := s.engine.ScreenAddress(c.Request.Context(), req.Address)
	if err != nil {
		s.screeningError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleScreenName(c *gin.Context) {
	var req screenNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	res, err := s.engine.ScreenName(c.Request.Context(), req.Name)
	if err != nil {
		s.screeningError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) screeningError(c *gin.Context, err error) {
	if errors.Is(err, screening.ErrNoWatchlistData) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "watchlist data unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "screening failed"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	_, lastRefresh := s.store.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"sources":      s.store.Status(),
		"last_refresh": lastRefresh,
	})
}
