// Package api exposes the dashboard/query surface and the message ingress
// webhook over HTTP.
package api

import (
	"fmt"
	"time"

	"tradewatch/internal/app"
	"tradewatch/internal/ports"
	"tradewatch/internal/traders"

	"github.com/gin-gonic/gin"
)

// Directory is the registry view the API needs for the traders and prices
// endpoints. Implemented by *traders.Registry.
type Directory interface {
	app.TraderDirectory
	Snapshot() *traders.Snapshot
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	logger    ports.Logger
	trades    ports.TradeRepository
	statuses  ports.StatusRepository
	updates   ports.UpdateRepository
	prices    ports.PriceFeed
	directory Directory
	ingest    *app.IngestionHandler
	now       func() time.Time
	router    *gin.Engine
}

// Config holds the dependencies of the HTTP server.
type Config struct {
	Logger    ports.Logger
	Trades    ports.TradeRepository
	Statuses  ports.StatusRepository
	Updates   ports.UpdateRepository
	Prices    ports.PriceFeed
	Directory Directory
	Ingest    *app.IngestionHandler
	Now       func() time.Time
}

// New validates dependencies and builds the routed server.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil || cfg.Trades == nil || cfg.Statuses == nil || cfg.Updates == nil ||
		cfg.Prices == nil || cfg.Directory == nil || cfg.Ingest == nil {
		return nil, fmt.Errorf("missing required dependencies for API server")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		logger:    cfg.Logger,
		trades:    cfg.Trades,
		statuses:  cfg.Statuses,
		updates:   cfg.Updates,
		prices:    cfg.Prices,
		directory: cfg.Directory,
		ingest:    cfg.Ingest,
		now:       now,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/trades", s.handleListTrades)
		api.GET("/trades/:id", s.handleGetTrade)
		api.POST("/trades/:id/close", s.handleCloseTrade)
		api.DELETE("/trades/:id", s.handleDeleteTrade)
		api.GET("/prices", s.handlePrices)
		api.GET("/traders", s.handleTraders)
		api.POST("/messages", s.handleMessage)
	}

	s.router = router
	return s, nil
}

// Router returns the configured gin engine for mounting on an http.Server.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(c.Request.Context(), "HTTP request", map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		})
	}
}
