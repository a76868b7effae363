package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/speedframe/speed/pkg/pipeline"
)

// Observer receives progress callbacks from one Speed invocation. Callbacks
// may arrive from worker goroutines; implementations must be safe for
// concurrent use.
type Observer interface {
	// OnRoute fires once, after routing but before execution.
	OnRoute(route Route, verdict pipeline.Verdict, sizeBytes int64)
	// OnChunkDone fires after each chunk completes on the chunked path.
	// total is the estimated chunk count and may differ from the final
	// done value.
	OnChunkDone(done, total int)
	// OnComplete fires once, after execution. rows is zero when err is
	// non-nil.
	OnComplete(route Route, rows int, err error)
}

// LogObserver logs progress through zap. It is the default observer.
type LogObserver struct {
	Logger *zap.Logger
}

func (o LogObserver) OnRoute(route Route, verdict pipeline.Verdict, sizeBytes int64) {
	o.Logger.Info("route selected",
		zap.String("route", string(route)),
		zap.String("verdict", verdict.String()),
		zap.Int64("estimated_bytes", sizeBytes))
}

func (o LogObserver) OnChunkDone(done, total int) {
	o.Logger.Debug("chunk completed",
		zap.Int("done", done),
		zap.Int("total", total))
}

func (o LogObserver) OnComplete(route Route, rows int, err error) {
	if err != nil {
		o.Logger.Error("execution failed",
			zap.String("route", string(route)),
			zap.Error(err))
		return
	}
	o.Logger.Info("execution completed",
		zap.String("route", string(route)),
		zap.Int("rows", rows))
}

// NopObserver discards all callbacks.
type NopObserver struct{}

func (NopObserver) OnRoute(Route, pipeline.Verdict, int64) {}
func (NopObserver) OnChunkDone(int, int)                   {}
func (NopObserver) OnComplete(Route, int, error)           {}

// MetricsObserver exports dispatch counters to Prometheus.
type MetricsObserver struct {
	routes    *prometheus.CounterVec
	chunks    prometheus.Counter
	completed *prometheus.CounterVec
	rows      prometheus.Counter
}

// NewMetricsObserver creates an observer registered against reg. Nil reg
// means the default registerer.
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &MetricsObserver{
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speed",
			Name:      "routes_total",
			Help:      "Dispatch decisions by route and verdict.",
		}, []string{"route", "verdict"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "speed",
			Name:      "chunks_completed_total",
			Help:      "Chunks completed on the chunked path.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speed",
			Name:      "runs_total",
			Help:      "Finished runs by route and status.",
		}, []string{"route", "status"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "speed",
			Name:      "result_rows_total",
			Help:      "Rows returned by successful runs.",
		}),
	}
	reg.MustRegister(o.routes, o.chunks, o.completed, o.rows)
	return o
}

func (o *MetricsObserver) OnRoute(route Route, verdict pipeline.Verdict, _ int64) {
	o.routes.WithLabelValues(string(route), verdict.String()).Inc()
}

func (o *MetricsObserver) OnChunkDone(_, _ int) {
	o.chunks.Inc()
}

func (o *MetricsObserver) OnComplete(route Route, rows int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.completed.WithLabelValues(string(route), status).Inc()
	if err == nil {
		o.rows.Add(float64(rows))
	}
}
