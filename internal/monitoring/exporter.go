// Package monitoring exposes pool statistics through Prometheus.
package monitoring

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shizukutanaka/tsurugi/internal/config"
)

// StatsSource is the slice of the pool the exporter reads.
type StatsSource interface {
	WorkerCount() int
	WorkerHashrate(thread int, window time.Duration) float64
	Hashrate(window time.Duration) (total float64, missing int)
	SolutionsFound() uint64
	JobsPublished() uint64
}

// Windows the exporter publishes hashrate gauges for.
var hashrateWindows = []time.Duration{10 * time.Second, 60 * time.Second}

// Exporter serves /metrics and refreshes the gauges on a fixed interval.
type Exporter struct {
	log      *zap.Logger
	cfg      config.MonitoringConfig
	source   StatsSource
	registry *prometheus.Registry
	server   *http.Server

	workerHashrate *prometheus.GaugeVec
	totalHashrate  *prometheus.GaugeVec
	workersMissing *prometheus.GaugeVec
	workerCount    prometheus.Gauge
	solutions      prometheus.Gauge
	jobs           prometheus.Gauge
}

// New builds an exporter over a stats source.
func New(log *zap.Logger, cfg config.MonitoringConfig, source StatsSource) *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{
		log:      log,
		cfg:      cfg,
		source:   source,
		registry: registry,
		workerHashrate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tsurugi",
			Name:      "worker_hashrate_hps",
			Help:      "Per-worker hashrate in hashes per second.",
		}, []string{"worker", "window"}),
		totalHashrate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tsurugi",
			Name:      "hashrate_hps",
			Help:      "Aggregate hashrate in hashes per second.",
		}, []string{"window"}),
		workersMissing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tsurugi",
			Name:      "workers_without_telemetry",
			Help:      "Workers with too little telemetry inside the window.",
		}, []string{"window"}),
		workerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tsurugi",
			Name:      "workers",
			Help:      "Number of running workers.",
		}),
		solutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tsurugi",
			Name:      "solutions_total",
			Help:      "Solutions found since start.",
		}),
		jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tsurugi",
			Name:      "jobs_total",
			Help:      "Work items published since start.",
		}),
	}

	registry.MustRegister(e.workerHashrate, e.totalHashrate, e.workersMissing,
		e.workerCount, e.solutions, e.jobs)
	return e
}

// Start serves metrics and begins the refresh loop. It returns immediately;
// the server shuts down when ctx is cancelled.
func (e *Exporter) Start(ctx context.Context) {
	mux := http.NewServeMux()
	path := e.cfg.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	e.server = &http.Server{Addr: e.cfg.ListenAddr, Handler: mux}

	go func() {
		e.log.Info("metrics server listening",
			zap.String("addr", e.cfg.ListenAddr), zap.String("path", path))
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.log.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				e.server.Shutdown(shutdownCtx)
				cancel()
				return
			case <-ticker.C:
				e.collect()
			}
		}
	}()
}

func (e *Exporter) collect() {
	e.workerCount.Set(float64(e.source.WorkerCount()))
	e.solutions.Set(float64(e.source.SolutionsFound()))
	e.jobs.Set(float64(e.source.JobsPublished()))

	for _, window := range hashrateWindows {
		label := window.String()
		total, missing := e.source.Hashrate(window)
		e.totalHashrate.WithLabelValues(label).Set(total)
		e.workersMissing.WithLabelValues(label).Set(float64(missing))

		for i := 0; i < e.source.WorkerCount(); i++ {
			rate := e.source.WorkerHashrate(i, window)
			if math.IsNaN(rate) {
				rate = 0
			}
			e.workerHashrate.WithLabelValues(strconv.Itoa(i), label).Set(rate)
		}
	}
}
