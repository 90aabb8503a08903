// Package api serves the engine's query surface over HTTP (gin): instrument
// list, latest analysis, candle series, stored profiles, IV ranges, flush,
// health, and the WebSocket hub.
package api

import (
	"context"
	"net/http"
	"time"

	"tick-analytics/internal/gateway"
	"tick-analytics/internal/model"

	"github.com/gin-gonic/gin"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultTF           = "1m"
	DefaultCandleLimit  = 500
	ServiceName         = "tick-analytics"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// Engine is the query side of engine.Router.
type Engine interface {
	Instruments() []model.Instrument
	Latest(securityID string) (model.AnalysisResult, error)
	GetCandles(securityID string, tf time.Duration) ([]model.Candle, bool)
	Flush(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Only Engine is required.
type Deps struct {
	Engine   Engine
	Profiles model.ProfileStore
	IV       model.IVHistory
	Hub      *gateway.Hub
	// Health reports component status; nil means always healthy.
	Health func() (ok bool, detail map[string]string)
}

// Server handles HTTP requests using gin.
type Server struct {
	deps  Deps
	start time.Time
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps, start: time.Now()}
}

// Routes configures all API routes.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(ginLoggerMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	v1 := router.Group("/api/v1")
	v1.GET("/health", s.Health)
	v1.GET("/instruments", s.ListInstruments)
	v1.GET("/instruments/:id/latest", s.GetLatest)
	v1.GET("/instruments/:id/candles", s.GetCandles)
	v1.GET("/instruments/:id/profiles", s.GetProfiles)
	v1.GET("/iv/:key", s.GetIVRange)
	v1.POST("/flush", s.Flush)
	v1.GET("/missed", s.GetMissed)

	if s.deps.Hub != nil {
		router.GET("/ws", gin.WrapH(s.deps.Hub))
	}
	return router
}

// NewHTTPServer wraps the routes in an http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
