package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tubetrace-engine/internal/common/logger"
)

type Collector struct {
	reg *prometheus.Registry

	Arrivals        *prometheus.CounterVec // line
	Resolutions     *prometheus.CounterVec // line, reason
	DurationSources *prometheus.CounterVec // line, source
	Vehicles        *prometheus.GaugeVec   // line
	UnknownRatio    *prometheus.GaugeVec   // line

	BatchDuration prometheus.Histogram

	SinkWrites  *prometheus.CounterVec // sink
	SinkErrors  *prometheus.CounterVec // sink
	SinkDropped *prometheus.CounterVec // sink

	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	AlertsSent       *prometheus.CounterVec // line
	RetentionDeleted *prometheus.CounterVec // table
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Arrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubetrace_arrivals_total",
			Help: "Arrival records answered, by line.",
		}, []string{"line"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubetrace_resolutions_total",
			Help: "Next-station resolutions by line and reason.",
		}, []string{"line", "reason"}),
		DurationSources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubetrace_duration_estimates_total",
			Help: "Duration estimates by line and source.",
		}, []string{"line", "source"}),
		Vehicles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tubetrace_active_vehicles",
			Help: "Distinct tracked vehicles seen in the latest batch, by line.",
		}, []string{"line"}),
		UnknownRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tubetrace_unknown_ratio",
			Help: "Share of UNKNOWN next stations in the latest batch, by line.",
		}, []string{"line"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tubetrace_batch_duration_seconds",
			Help:    "Time to infer one multi-line batch.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubetrace_sink_writes_total",
			Help: "Line batches accepted by a sink.",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubetrace_sink_errors_total",
			Help: "Line batches a sink failed to handle.",
		}, []string{"sink"}),
		SinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubetrace_sink_dropped_total",
			Help: "Line batches dropped because a sink queue was full.",
		}, []string{"sink"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tubetrace_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tubetrace_publish_duration_seconds",
			Help:    "Duration to marshal and publish one NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubetrace_alerts_sent_total",
			Help: "Unknown-ratio alerts posted, by line.",
		}, []string{"line"}),
		RetentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubetrace_retention_deleted_total",
			Help: "Rows removed by retention cleanup, by table.",
		}, []string{"table"}),
	}

	reg.MustRegister(
		c.Arrivals, c.Resolutions, c.DurationSources, c.Vehicles, c.UnknownRatio,
		c.BatchDuration,
		c.SinkWrites, c.SinkErrors, c.SinkDropped,
		c.NATSConnected, c.PublishDuration,
		c.AlertsSent, c.RetentionDeleted,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server error", "error", err)
		}
	}()
	log.Info("Metrics listening", "addr", addr)
	return srv
}

func (c *Collector) NATSPublishedInc() { c.SinkWrites.WithLabelValues("nats").Inc() }
func (c *Collector) NATSPublishErrInc() { c.SinkErrors.WithLabelValues("nats").Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

func (c *Collector) SinkWritten(sink string) { c.SinkWrites.WithLabelValues(sink).Inc() }
func (c *Collector) SinkFailed(sink string) { c.SinkErrors.WithLabelValues(sink).Inc() }
func (c *Collector) SinkDroppedInc(sink string) { c.SinkDropped.WithLabelValues(sink).Inc() }

func (c *Collector) RowsDeleted(table string, n int64) {
	c.RetentionDeleted.WithLabelValues(table).Add(float64(n))
}
