// Package metrics holds the Prometheus collectors shared by the worker and server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvk_uploads_total",
		Help: "Uploads processed, by result (ok, rejected, failed)",
	}, []string{"result"})

	UploadStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kvk_upload_stage_duration_seconds",
		Help:    "Duration of each upload pipeline stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvk_upload_stage_failures_total",
		Help: "Storage failures by upload stage",
	}, []string{"stage"})

	SkippedRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvk_skipped_rows_total",
		Help: "Spreadsheet rows dropped for missing identity",
	})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvk_cache_requests_total",
		Help: "Read cache lookups, by outcome (hit, miss)",
	}, []string{"outcome"})

	ReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvk_read_failures_total",
		Help: "Read projections that fell back after a storage error",
	}, []string{"projection"})

	QueueJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvk_queue_jobs_total",
		Help: "Queue jobs by outcome (enqueued, done, retried, dead)",
	}, []string{"outcome"})
)
