package observability

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

// Metrics is the process-wide metric registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiReqTotal *Counter
	apiReqError *Counter

	opsTotal        *CounterVec
	opsLatency      *HistogramVec
	opsSlow         *Counter
	opsAll          *Counter
	signalScore     *HistogramVec
	signalsIngested *CounterVec
	interventions   *CounterVec
	suppressed      *CounterVec
	persistFailures *Counter
	archived        *CounterVec
	activeSessions  *Gauge
	realtimeClients *Gauge
	alertsPublished *CounterVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge

	sloCompliance *GaugeVec
	sloBudget     *GaugeVec
	sloBurn       *GaugeVec
}

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", true)
}

func scrapeInterval() time.Duration {
	return envutil.Duration("METRICS_SCRAPE_INTERVAL", 10*time.Second)
}

func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("struggle_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"struggle_api_request_duration_seconds",
			"API request latency in seconds by method/route.",
			[]string{"method", "route"},
			[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		),
		apiInflight: NewGauge("struggle_api_inflight_requests", "In-flight API requests."),
		apiReqTotal: NewCounter("struggle_api_requests_total_all", "Total API requests (all)."),
		apiReqError: NewCounter("struggle_api_requests_error_total", "API requests answered with 5xx."),

		opsTotal: NewCounterVec("struggle_operations_total", "Session operations by name and budget outcome.", []string{"op", "slow"}),
		opsLatency: NewHistogramVec(
			"struggle_operation_duration_seconds",
			"Session operation latency in seconds.",
			[]string{"op"},
			[]float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		),
		opsSlow: NewCounter("struggle_slow_operations_total", "Operations over the processing budget."),
		opsAll:  NewCounter("struggle_operations_total_all", "All session operations."),
		signalScore: NewHistogramVec(
			"struggle_signal_score",
			"Struggle score after each accepted signal.",
			nil,
			[]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		),
		signalsIngested: NewCounterVec("struggle_signals_ingested_total", "Raw signals received by source and result.", []string{"source", "status"}),
		interventions:   NewCounterVec("struggle_interventions_total", "Interventions fired by type and urgency.", []string{"type", "urgency"}),
		suppressed:      NewCounterVec("struggle_interventions_suppressed_total", "Threshold crossings that did not fire.", []string{"reason"}),
		persistFailures: NewCounter("struggle_persist_failures_total", "Envelope writes that exhausted retries."),
		archived:        NewCounterVec("struggle_sessions_archived_total", "Archived sessions by reason.", []string{"reason"}),
		activeSessions:  NewGauge("struggle_active_sessions", "Sessions in the active set."),
		realtimeClients: NewGauge("struggle_realtime_clients", "Connected intervention stream clients."),
		alertsPublished: NewCounterVec("struggle_alerts_published_total", "Instructor alerts published by result.", []string{"status"}),

		pgStats:   NewGaugeVec("struggle_postgres_pool", "Postgres connection pool stats.", []string{"stat"}),
		redisUp:   NewGauge("struggle_redis_up", "Redis reachability (1 = up)."),
		redisPing: NewGauge("struggle_redis_ping_seconds", "Redis ping latency in seconds."),

		sloCompliance: NewGaugeVec("struggle_slo_compliance", "SLI over the SLO window.", []string{"slo", "window"}),
		sloBudget:     NewGaugeVec("struggle_slo_error_budget_remaining", "Remaining error budget fraction.", []string{"slo", "window"}),
		sloBurn:       NewGaugeVec("struggle_slo_burn_rate", "Error budget burn rate.", []string{"slo", "window"}),
	}
}

func (m *Metrics) series() []promWriter {
	return []promWriter{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiReqTotal, m.apiReqError,
		m.opsTotal, m.opsLatency, m.opsSlow, m.opsAll, m.signalScore, m.signalsIngested,
		m.interventions, m.suppressed, m.persistFailures, m.archived, m.activeSessions,
		m.realtimeClients, m.alertsPublished,
		m.pgStats, m.redisUp, m.redisPing,
		m.sloCompliance, m.sloBudget, m.sloBurn,
	}
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, s := range m.series() {
		if err := s.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

// StartServer exposes /metrics on a dedicated listener until ctx ends.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", m.WriteHTTP)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

// ---- HTTP ----

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
	m.apiReqTotal.Inc()
	if strings.HasPrefix(status, "5") {
		m.apiReqError.Inc()
	}
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Add(1)
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Add(-1)
}

// ---- session store observer ----

func (m *Metrics) OperationObserved(op string, d time.Duration, slow bool) {
	if m == nil {
		return
	}
	m.opsTotal.Inc(op, strconv.FormatBool(slow))
	m.opsLatency.Observe(d.Seconds(), op)
	m.opsAll.Inc()
	if slow {
		m.opsSlow.Inc()
	}
}

func (m *Metrics) SignalScored(score float64) {
	if m == nil {
		return
	}
	m.signalScore.Observe(score)
}

func (m *Metrics) InterventionFired(rec struggle.InterventionRecord) {
	if m == nil {
		return
	}
	m.interventions.Inc(string(rec.Type), string(rec.Urgency))
}

func (m *Metrics) InterventionSuppressed(reason string) {
	if m == nil {
		return
	}
	m.suppressed.Inc(reason)
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) SessionArchived(reason struggle.ArchiveReason) {
	if m == nil {
		return
	}
	m.archived.Inc(string(reason))
}

func (m *Metrics) ActiveSessions(n int64) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ---- delivery ----

func (m *Metrics) SignalIngested(source, status string) {
	if m == nil {
		return
	}
	m.signalsIngested.Inc(source, status)
}

// SignalsIngestedValue reports the ingestion counter for one source/status pair.
func (m *Metrics) SignalsIngestedValue(source, status string) float64 {
	if m == nil {
		return 0
	}
	return m.signalsIngested.Value(source, status)
}

func (m *Metrics) RealtimeClients(n int) {
	if m == nil {
		return
	}
	m.realtimeClients.Set(float64(n))
}

func (m *Metrics) AlertPublished(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.alertsPublished.Inc(status)
}

// ---- collectors ----

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
			}
		}
	}()
}

// StartRedisCollector pings the shared client; it never closes it.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
