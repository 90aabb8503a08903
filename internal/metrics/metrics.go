package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the analytics engine.
type Metrics struct {
	TicksTotal   prometheus.Counter
	DroppedTicks *prometheus.CounterVec // labels: reason=mailbox|late|refused|unknown|feed|invalid
	ResultsTotal prometheus.Counter
	ResultDrops  *prometheus.CounterVec // labels: stream=results|candles
	WorkerPanics prometheus.Counter
	Workers      prometheus.Gauge

	// Feed
	WSReconnects  prometheus.Counter
	FeedConnected prometheus.Gauge

	// Persistence
	FlushDur    prometheus.Histogram
	FlushErrors prometheus.Counter

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Fan-out backpressure and downstream
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	WSSlowClients    prometheus.Counter
	SignalAlerts     *prometheus.CounterVec // labels: signal

	// Option greeks poller
	GreeksPolls      prometheus.Counter
	GreeksPollErrors prometheus.Counter
}

// NewMetrics creates all metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_ticks_total",
			Help: "Ticks handed to the engine",
		}),
		DroppedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_dropped_ticks_total",
			Help: "Ticks not analysed (full mailbox, late, or refused instrument)",
		}, []string{"reason"}),
		ResultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_results_total",
			Help: "Analysis results distributed",
		}),
		ResultDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_output_drops_total",
			Help: "Results or candle updates dropped on a full output channel",
		}, []string{"stream"}),
		WorkerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_worker_panics_total",
			Help: "Messages whose processing panicked and was recovered",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_workers",
			Help: "Running per-instrument workers",
		}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_feed_reconnects_total",
			Help: "SmartAPI WebSocket reconnection attempts",
		}),
		FeedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_feed_connected",
			Help: "SmartAPI WebSocket state (0=down, 1=connected)",
		}),

		FlushDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analytics_flush_duration_seconds",
			Help:    "Snapshot and store flush latency",
			Buckets: prometheus.DefBuckets,
		}),
		FlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_flush_errors_total",
			Help: "Failed flushes",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_redis_buffered_writes_total",
			Help: "Writes buffered locally while the Redis circuit was open",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_fanout_drops_total",
			Help: "Results dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		WSSlowClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_ws_slow_client_drops_total",
			Help: "Envelopes dropped for WebSocket clients with a full queue",
		}),
		SignalAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_signal_alerts_total",
			Help: "Final trade signal alerts sent",
		}, []string{"signal"}),

		GreeksPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_greeks_polls_total",
			Help: "Option greek polls",
		}),
		GreeksPollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_greeks_poll_errors_total",
			Help: "Failed option greek polls",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.ResultsTotal,
		m.ResultDrops,
		m.WorkerPanics,
		m.Workers,
		m.WSReconnects,
		m.FeedConnected,
		m.FlushDur,
		m.FlushErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.FanoutDropsTotal,
		m.WSSlowClients,
		m.SignalAlerts,
		m.GreeksPolls,
		m.GreeksPollErrors,
	)
	return m
}

// ObserveFlush records one flush outcome.
func (m *Metrics) ObserveFlush(start time.Time, err error) {
	m.FlushDur.Observe(time.Since(start).Seconds())
	if err != nil {
		m.FlushErrors.Inc()
	}
}

// HealthStatus tracks component health for /healthz and the API.
type HealthStatus struct {
	mu sync.RWMutex

	FeedEnabled    bool
	FeedConnected  bool
	LastTickTime   time.Time
	RedisEnabled   bool
	RedisConnected bool
	DBOK           bool

	RedisLatencyMs float64
	DBLatencyMs    float64
	LastCheckAt    time.Time
	StartedAt      time.Time
}

// NewHealthStatus returns a health status for the enabled components.
func NewHealthStatus(feed, redis bool) *HealthStatus {
	return &HealthStatus{
		FeedEnabled:  feed,
		RedisEnabled: redis,
		DBOK:         true,
		StartedAt:    time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckDB pings the database and records latency and health.
func (h *HealthStatus) CheckDB(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.DBOK = err == nil
	h.DBLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// RunLivenessChecker probes the dependencies every interval until ctx is done.
// rdb and db may be nil.
func (h *HealthStatus) RunLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if rdb != nil {
				h.CheckRedis(probeCtx, rdb)
			}
			if db != nil {
				h.CheckDB(probeCtx, db)
			}
			cancel()
		}
	}
}

// Check reports overall health and a per-component summary.
func (h *HealthStatus) Check() (ok bool, detail map[string]string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ok = true
	detail = map[string]string{"db": "ok"}
	if !h.DBOK {
		ok = false
		detail["db"] = "down"
	}
	if h.FeedEnabled {
		detail["feed"] = "connected"
		if !h.FeedConnected {
			ok = false
			detail["feed"] = "down"
		}
	}
	if h.RedisEnabled {
		detail["redis"] = "connected"
		if !h.RedisConnected {
			ok = false
			detail["redis"] = "down"
		}
	}
	return ok, detail
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ok, detail := h.Check()

	h.mu.RLock()
	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}
	status := struct {
		Status         string            `json:"status"`
		Uptime         string            `json:"uptime"`
		Components     map[string]string `json:"components"`
		TickAge        string            `json:"tick_age"`
		RedisLatencyMs float64           `json:"redis_latency_ms"`
		DBLatencyMs    float64           `json:"db_latency_ms"`
	}{
		Status:         "healthy",
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		Components:     detail,
		TickAge:        tickAge,
		RedisLatencyMs: h.RedisLatencyMs,
		DBLatencyMs:    h.DBLatencyMs,
	}
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		status.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server over the given gatherer.
func NewServer(addr string, health *HealthStatus, g prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
