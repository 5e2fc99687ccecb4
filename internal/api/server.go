// Package api serves the grouped book and its controls over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bookview/config"
	"bookview/internal/metrics"
	"bookview/logger"
	"bookview/models"
	"bookview/orderbook"
)

const shutdownTimeout = 5 * time.Second

// Controller is the part of the book processor the API drives.
type Controller interface {
	BookView(side orderbook.Side) (models.BookView, bool)
	SpreadView() (models.SpreadView, bool)
	Status() models.StatusView
	SetGroupingSize(tick string) error
	ToggleMarket(ctx context.Context) (string, error)
}

// Server hosts the book API.
type Server struct {
	address    string
	prometheus bool
	ctrl       Controller
	log        *logger.Log
	logStore   *logStore
	httpServer *http.Server
}

type groupingRequest struct {
	Tick string `json:"tick" binding:"required"`
}

// NewServer returns nil when the API is disabled. The server attaches a
// hook to log that retains recent entries for /api/logs.
func NewServer(cfg *config.Config, ctrl Controller, log *logger.Log) *Server {
	if !cfg.API.Enabled {
		return nil
	}
	store := newLogStore(cfg.API.LogHistory)
	log.AddHook(store)
	return &Server{
		address:    normalizeAddress(cfg.API.Address),
		prometheus: cfg.Metrics.Prometheus,
		ctrl:       ctrl,
		log:        log,
		logStore:   store,
	}
}

// Address reports the address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.logStore.close()

	s.httpServer = &http.Server{
		Addr:    s.address,
		Handler: s.buildRouter(),
	}
	s.log.WithComponent("api").WithField("address", s.address).Info("starting api server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	api.GET("/book/:side", s.handleBook)
	api.GET("/spread", s.handleSpread)
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ctrl.Status())
	})
	api.PUT("/grouping", s.handleGrouping)
	api.POST("/market/toggle", s.handleToggle)
	api.GET("/logs", s.handleLogs)

	if s.prometheus {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return router
}

func (s *Server) handleBook(c *gin.Context) {
	side, ok := orderbook.ParseSide(c.Param("side"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be bid or ask"})
		return
	}
	view, ok := s.ctrl.BookView(side)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "no_data"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleSpread(c *gin.Context) {
	view, ok := s.ctrl.SpreadView()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "no_data"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleGrouping(c *gin.Context) {
	var req groupingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"tick\": \"<decimal>\"}"})
		return
	}
	if err := s.ctrl.SetGroupingSize(req.Tick); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, orderbook.ErrInvalidTickSize):
			status = http.StatusBadRequest
		case errors.Is(err, orderbook.ErrClosed):
			status = http.StatusServiceUnavailable
		}
		s.log.WithComponent("api").WithError(err).Warn("grouping change rejected")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleToggle(c *gin.Context) {
	market, err := s.ctrl.ToggleMarket(c.Request.Context())
	if err != nil {
		s.log.WithComponent("api").WithError(err).Warn("market toggle failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": market})
}

func (s *Server) handleLogs(c *gin.Context) {
	records, err := s.logStore.snapshot(c.Query("level"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": records})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, "8080")
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = "8080"
	}
	return net.JoinHostPort(host, port)
}
