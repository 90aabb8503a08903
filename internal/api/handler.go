package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tick-analytics/internal/engine"
	"tick-analytics/internal/logger"
	"tick-analytics/internal/model"

	"github.com/gin-gonic/gin"
)

// Health handles GET /api/v1/health.
func (s *Server) Health(c *gin.Context) {
	ok, detail := true, map[string]string{}
	if s.deps.Health != nil {
		ok, detail = s.deps.Health()
	}
	body := gin.H{
		"status":      "ok",
		"service":     ServiceName,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"uptime_sec":  int64(time.Since(s.start).Seconds()),
		"instruments": len(s.deps.Engine.Instruments()),
		"components":  detail,
	}
	if hub := s.deps.Hub; hub != nil {
		p50, p95, p99 := hub.Latency.Percentiles()
		body["ws_clients"] = hub.ClientCount()
		body["latency_ms"] = gin.H{"p50": p50, "p95": p95, "p99": p99}
	}
	if !ok {
		body["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// ListInstruments handles GET /api/v1/instruments.
func (s *Server) ListInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.Instruments())
}

// GetLatest handles GET /api/v1/instruments/:id/latest.
func (s *Server) GetLatest(c *gin.Context) {
	res, err := s.deps.Engine.Latest(c.Param("id"))
	if err != nil {
		if errors.Is(err, engine.ErrUnknownInstrument) {
			s.fail(c, http.StatusNotFound, err)
			return
		}
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetCandles handles GET /api/v1/instruments/:id/candles?tf=5m&limit=100.
func (s *Server) GetCandles(c *gin.Context) {
	tf, err := parseTF(c.DefaultQuery("tf", DefaultTF))
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	candles, ok := s.deps.Engine.GetCandles(c.Param("id"), tf)
	if !ok {
		s.fail(c, http.StatusNotFound, engine.ErrUnknownInstrument)
		return
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	if candles == nil {
		candles = []model.Candle{}
	}
	c.JSON(http.StatusOK, gin.H{
		"security_id": c.Param("id"),
		"tf":          model.TFKey(tf),
		"candles":     candles,
	})
}

// GetProfiles handles GET /api/v1/instruments/:id/profiles (newest first).
func (s *Server) GetProfiles(c *gin.Context) {
	if s.deps.Profiles == nil {
		s.fail(c, http.StatusNotImplemented, errors.New("profile store not configured"))
		return
	}
	profiles := s.deps.Profiles.GetProfiles(c.Param("id"))
	if profiles == nil {
		profiles = []model.MarketProfileData{}
	}
	c.JSON(http.StatusOK, profiles)
}

// GetIVRange handles GET /api/v1/iv/:key.
func (s *Server) GetIVRange(c *gin.Context) {
	if s.deps.IV == nil {
		s.fail(c, http.StatusNotImplemented, errors.New("iv store not configured"))
		return
	}
	hi, lo := s.deps.IV.Get90DayRange(c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "high_90d": hi, "low_90d": lo})
}

// Flush handles POST /api/v1/flush.
func (s *Server) Flush(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()
	if err := s.deps.Engine.Flush(ctx); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "flushed"})
}

// GetMissed handles GET /api/v1/missed?channel=..&from=..&to=.. for WebSocket gap backfill.
func (s *Server) GetMissed(c *gin.Context) {
	if s.deps.Hub == nil {
		s.fail(c, http.StatusNotImplemented, errors.New("websocket hub not configured"))
		return
	}
	channel := c.Query("channel")
	from, err1 := strconv.ParseInt(c.Query("from"), 10, 64)
	to, err2 := strconv.ParseInt(c.Query("to"), 10, 64)
	if channel == "" || err1 != nil || err2 != nil || from > to {
		s.fail(c, http.StatusBadRequest, errors.New("channel, from and to are required (from <= to)"))
		return
	}
	envelopes := s.deps.Hub.ReplayRange(channel, from, to)
	c.Data(http.StatusOK, "application/json", joinJSON(envelopes))
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	requestID, _ := c.Get(RequestIDContextKey)
	if status >= http.StatusInternalServerError {
		slog.Error("api request failed",
			append(logger.LogWithTrace(c.Request.Context()),
				"method", c.Request.Method, "path", c.Request.URL.Path, "err", err)...)
	}
	c.JSON(status, gin.H{"error": err.Error(), "request_id": requestID})
}

func parseTF(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d < time.Minute || d%time.Minute != 0 {
		return 0, errors.New("tf must be a whole number of minutes, e.g. 5m")
	}
	return d, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return DefaultCandleLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

// joinJSON builds a JSON array from pre-encoded envelopes.
func joinJSON(items [][]byte) []byte {
	n := 2
	for _, it := range items {
		n += len(it) + 1
	}
	buf := make([]byte, 0, n)
	buf = append(buf, '[')
	for i, it := range items {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, it...)
	}
	return append(buf, ']')
}
