// Package metrics exposes Prometheus metrics and a health endpoint for
// the decision engine.
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

// Metrics holds all Prometheus metrics for the decision engine.
type Metrics struct {
	TicksTotal     prometheus.Counter
	TickDuration   prometheus.Histogram
	CandlesFetched prometheus.Counter

	GapsDetected     prometheus.Counter
	SignalsConfirmed prometheus.Counter
	SignalsRejected  *prometheus.CounterVec // labels: reason

	PositionsOpened   prometheus.Counter
	PositionsClosed   prometheus.Counter
	OpenPositions     prometheus.Gauge
	ExecutionFailures prometheus.Counter
	SaveFailures      prometheus.Counter

	Balance     prometheus.Gauge
	RealizedPnL prometheus.Gauge // cumulative, can decrease
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgbot_ticks_total",
			Help: "Total decision cycles executed",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fvgbot_tick_duration_seconds",
			Help:    "Decision cycle wall time",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CandlesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgbot_candles_fetched_total",
			Help: "Closed candles fetched from market data",
		}),
		GapsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgbot_gaps_detected_total",
			Help: "Fair value gaps detected",
		}),
		SignalsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgbot_signals_confirmed_total",
			Help: "Gap touches confirmed into entry signals",
		}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvgbot_signals_rejected_total",
			Help: "Gap touches rejected, by reason",
		}, []string{"reason"}),
		PositionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgbot_positions_opened_total",
			Help: "Positions opened",
		}),
		PositionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgbot_positions_closed_total",
			Help: "Positions closed",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fvgbot_open_positions",
			Help: "Currently open positions",
		}),
		ExecutionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgbot_execution_failures_total",
			Help: "Order placements that returned an error",
		}),
		SaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgbot_state_save_failures_total",
			Help: "Snapshot saves that returned an error",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fvgbot_balance",
			Help: "Current account balance in quote units",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fvgbot_realized_pnl",
			Help: "Cumulative realized P&L since process start",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.CandlesFetched,
		m.GapsDetected,
		m.SignalsConfirmed,
		m.SignalsRejected,
		m.PositionsOpened,
		m.PositionsClosed,
		m.OpenPositions,
		m.ExecutionFailures,
		m.SaveFailures,
		m.Balance,
		m.RealizedPnL,
	)

	return m
}

// HealthStatus represents dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), SQLiteOK: true, RedisConnected: true}
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
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

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
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
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.SQLiteOK {
		// SQLite is the durable state store; without it the engine must
		// not keep trading. Redis is best-effort telemetry only.
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	} else if !h.RedisConnected {
		overallStatus = "degraded"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

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
