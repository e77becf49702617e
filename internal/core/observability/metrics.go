// Package observability holds the process-wide Prometheus collectors for
// the HTTP surface, the model store and model loading.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	storeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_store_ops_total",
			Help: "Model store operations by op and result.",
		},
		[]string{"op", "result"},
	)

	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_store_op_duration_seconds",
			Help:    "Latency of model store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"op"},
	)

	storeDedupTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "model_store_dedup_total",
			Help: "Store calls whose content was already present.",
		},
	)

	storeBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "model_store_bytes_written_total",
			Help: "Bytes written into the model store.",
		},
	)

	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_loads_total",
			Help: "Model loads by framework and outcome (hit, miss, error).",
		},
		[]string{"framework", "outcome"},
	)

	catalogOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_catalog_ops_total",
			Help: "Redis catalog operations by op and result.",
		},
		[]string{"op", "result"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "udf_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

// Init registers the collectors with reg. The host calls it once at
// startup; observations made before Init are kept and exported afterwards.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		storeOpsTotal,
		storeOpDurationSeconds,
		storeDedupTotal,
		storeBytesTotal,
		modelLoadsTotal,
		catalogOpsTotal,
		buildInfo,
	)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	storeOpsTotal.WithLabelValues(op, result(err)).Inc()
	storeOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncStoreDedup() { storeDedupTotal.Inc() }

func AddStoreBytes(n int64) {
	if n > 0 {
		storeBytesTotal.Add(float64(n))
	}
}

func ObserveModelLoad(framework string, hit bool, err error) {
	outcome := "miss"
	switch {
	case err != nil:
		outcome = "error"
	case hit:
		outcome = "hit"
	}
	modelLoadsTotal.WithLabelValues(framework, outcome).Inc()
}

func ObserveCatalogOp(op string, err error) {
	catalogOpsTotal.WithLabelValues(op, result(err)).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
