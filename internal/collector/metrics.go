package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени занял прием пачки
	IngestDuration *prometheus.HistogramVec

	// Traffic: пачки и отдельные строки
	IngestBatches *prometheus.CounterVec
	IngestRecords prometheus.Counter

	// Errors: классификация отказов приема
	ErrorTotal *prometheus.CounterVec

	// Saturation: заполненность буфера синка (backpressure)
	SinkBufferFill prometheus.Gauge

	// Reliability: неудачные пакетные записи в хранилище
	SinkFlushFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		IngestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bbx_ingest_duration_seconds",
			Help:    "Histogram of ingest request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"status"}),

		IngestBatches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "bbx_ingest_batches_total",
			Help: "Total number of accepted shipment batches.",
		}, []string{"kind"}),

		IngestRecords: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bbx_ingest_records_total",
			Help: "Total number of individual records accepted.",
		}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "bbx_ingest_errors_total",
			Help: "Total number of ingest errors by type.",
		}, []string{"type"}), // типы: bad_payload, rate_limited, storage

		SinkBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "bbx_sink_buffer_utilization",
			Help: "Current number of records in the sink buffer.",
		}),

		SinkFlushFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bbx_sink_flush_failures_total",
			Help: "Total number of failed bulk writes to storage.",
		}),
	}
}
