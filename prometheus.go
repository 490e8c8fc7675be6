package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics holds the transfer-observability collectors, registered
// via promauto so construction and registration can't drift apart.
type PrometheusMetrics struct {
	activeDevices     prometheus.Gauge
	chunksSentTotal   *prometheus.CounterVec // labels: profile
	chunksRecvTotal   *prometheus.CounterVec // labels: profile
	bytesSentTotal    *prometheus.CounterVec // labels: profile
	bytesRecvTotal    *prometheus.CounterVec // labels: profile
	integrityMismatch *prometheus.CounterVec // labels: profile
	transfersComplete *prometheus.CounterVec // labels: profile, status
	calibrationSecs   prometheus.Histogram
	transferSNRdB     prometheus.Gauge
}

// NewPrometheusMetrics registers and returns the daemon's metric
// collectors against the default registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		activeDevices: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "acoustictransfer_active_devices",
			Help: "Number of currently tracked device sessions.",
		}),
		chunksSentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acoustictransfer_chunks_sent_total",
			Help: "Data chunks played by a sender, by profile.",
		}, []string{"profile"}),
		chunksRecvTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acoustictransfer_chunks_received_total",
			Help: "Data chunks accepted by a receiver, by profile.",
		}, []string{"profile"}),
		bytesSentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acoustictransfer_bytes_sent_total",
			Help: "Payload bytes played by a sender, by profile.",
		}, []string{"profile"}),
		bytesRecvTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acoustictransfer_bytes_received_total",
			Help: "Payload bytes accepted by a receiver, by profile.",
		}, []string{"profile"}),
		integrityMismatch: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acoustictransfer_integrity_mismatch_total",
			Help: "Completed transfers whose checksum/CRC did not verify, by profile.",
		}, []string{"profile"}),
		transfersComplete: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "acoustictransfer_transfers_total",
			Help: "Completed transfers, by profile and final status.",
		}, []string{"profile", "status"}),
		calibrationSecs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "acoustictransfer_calibration_duration_seconds",
			Help:    "Wall-clock duration of calibrate() calls.",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8},
		}),
		transferSNRdB: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "acoustictransfer_last_reported_snr_db",
			Help: "Most recently reported reception SNR fed to the power controller.",
		}),
	}
}

func (pm *PrometheusMetrics) RecordChunkSent(profileName string, payloadBytes int) {
	pm.chunksSentTotal.WithLabelValues(profileName).Inc()
	pm.bytesSentTotal.WithLabelValues(profileName).Add(float64(payloadBytes))
}

func (pm *PrometheusMetrics) RecordChunkReceived(profileName string, payloadBytes int) {
	pm.chunksRecvTotal.WithLabelValues(profileName).Inc()
	pm.bytesRecvTotal.WithLabelValues(profileName).Add(float64(payloadBytes))
}

func (pm *PrometheusMetrics) RecordTransferDone(profileName, status string, mismatched bool) {
	pm.transfersComplete.WithLabelValues(profileName, status).Inc()
	if mismatched {
		pm.integrityMismatch.WithLabelValues(profileName).Inc()
	}
}

func (pm *PrometheusMetrics) RecordCalibration(seconds float64) {
	pm.calibrationSecs.Observe(seconds)
}

func (pm *PrometheusMetrics) RecordSNR(snrDB float64) {
	pm.transferSNRdB.Set(snrDB)
}

func (pm *PrometheusMetrics) SetActiveDevices(n int) {
	pm.activeDevices.Set(float64(n))
}

// ServeMetrics starts the Prometheus scrape endpoint on listen, blocking
// until the HTTP server exits (the caller runs it in its own goroutine).
func ServeMetrics(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, mux)
}
