package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/port4k/port4k/pkg/game"
)

// Metrics holds Prometheus metric descriptors for the game server.
type Metrics struct {
	game      *game.Game
	startTime time.Time

	// Counters incremented by the transports.
	ConnectsTotal *prometheus.CounterVec
	CommandsTotal prometheus.Counter
	Sessions      *prometheus.GaugeVec

	zonesActive     prometheus.Gauge
	scriptAbandoned prometheus.Gauge
	uptimeSeconds   prometheus.Gauge
	memoryHeapBytes prometheus.Gauge
	goroutines      prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics for the game.
func NewMetrics(g *game.Game) *Metrics {
	m := &Metrics{
		game:      g,
		startTime: time.Now(),
		ConnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "port4k_connections_total",
			Help: "Total connections since server start, by transport.",
		}, []string{"transport"}),
		CommandsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "port4k_commands_processed_total",
			Help: "Total commands processed since server start.",
		}),
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "port4k_sessions",
			Help: "Currently connected sessions by transport.",
		}, []string{"transport"}),
		zonesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "port4k_zones_active",
			Help: "Instantiated shared zone runtimes.",
		}),
		scriptAbandoned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "port4k_script_workers_abandoned",
			Help: "Script workers abandoned to hook timeouts since start.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "port4k_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "port4k_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "port4k_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	prometheus.MustRegister(
		m.ConnectsTotal,
		m.CommandsTotal,
		m.Sessions,
		m.zonesActive,
		m.scriptAbandoned,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)

	return m
}

// Update refreshes all gauge metrics from current game state.
func (m *Metrics) Update() {
	m.zonesActive.Set(float64(m.game.ZoneCount()))
	if m.game.Scripts != nil {
		m.scriptAbandoned.Set(float64(m.game.Scripts.Abandoned()))
	}
	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	promHandler := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		promHandler.ServeHTTP(w, r)
	})
}
