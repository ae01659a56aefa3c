package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this service exports. It is separate from
// the global default so tests and both binaries register exactly once.
var Registry = prometheus.NewRegistry()

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)
	APISchedule = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_schedule_total", Help: "Scheduled-post writes through the API."},
		[]string{"result"}, // created | updated | requeued | deleted | error
	)

	// Scheduler
	SchedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "scheduler_ticks_total", Help: "Poll ticks."},
		[]string{"result"}, // ok | error | skipped
	)
	DuePosts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_due_posts",
			Help:    "Number of due posts found per tick.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)
	Publishing = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "scheduler_publishing", Help: "1 while a publish attempt is in flight."},
	)
	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "provider_publish_total", Help: "Publish outcomes."},
		[]string{"outcome"}, // published | failed
	)
	PublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_publish_duration_seconds",
			Help:    "Provider publish latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
	TokenRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "token_refresh_total", Help: "Credential refresh attempts."},
		[]string{"result"}, // refreshed | failed | no_refresh_token
	)
)

var registerOnce sync.Once

// MustRegister registers the runtime and service collectors once per process.
func MustRegister() {
	registerOnce.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			HTTPRequests, HTTPDuration, APISchedule,
			SchedulerTicks, DuePosts, Publishing,
			PublishTotal, PublishDuration, TokenRefresh,
		)
	})
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	MustRegister()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// PGXPoolStats exports pgxpool.Stat as gauges.
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns          prometheus.Gauge
	idle           prometheus.Gauge
	acquireCount   prometheus.Gauge
	acquireLatency prometheus.Gauge
}

func NewPGXPoolStats(pool *pgxpool.Pool) *PGXPoolStats {
	m := &PGXPoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		acquireCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_acquires_total", Help: "Cumulative pool acquires.",
		}),
		acquireLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_acquire_seconds_total", Help: "Cumulative acquire latency.",
		}),
	}
	Registry.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireLatency)

	return m
}

// Start samples the pool every interval until stop is closed.
func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			m.sample()
		}
	}
}

func (m *PGXPoolStats) sample() {
	s := m.pool.Stat()
	m.conns.Set(float64(s.TotalConns()))
	m.idle.Set(float64(s.IdleConns()))
	// pgxpool already reports running totals
	m.acquireCount.Set(float64(s.AcquireCount()))
	m.acquireLatency.Set(s.AcquireDuration().Seconds())
}
