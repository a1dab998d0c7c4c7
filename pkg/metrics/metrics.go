package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	TargetsScheduled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_targets_scheduled",
			Help: "Number of targets in the loaded schedule.",
		},
	)

	RunningCrawls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_running_crawls",
			Help: "Current number of crawler processes in flight.",
		},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_runs_total",
			Help: "Total number of finished crawl runs.",
		},
		[]string{"status", "error_type"}, // status: success, failure
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_run_duration_seconds",
			Help:    "Wall time of crawl runs, launch to completion.",
			Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200, 14400},
		},
		[]string{"status"},
	)

	RowsIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_rows_ingested_total",
			Help: "Total number of export rows read from crawl output.",
		},
	)

	StatementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_statements_total",
			Help: "Total number of generated INSERT statements.",
		},
		[]string{"valid"},
	)
)
