package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlsdl_jobs_started_total",
		Help: "Download jobs that entered the pipeline.",
	})
	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsdl_jobs_completed_total",
		Help: "Download jobs that completed, by outcome (full, partial, passthrough).",
	}, []string{"outcome"})
	JobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsdl_jobs_failed_total",
		Help: "Download jobs that failed, by phase.",
	}, []string{"phase"})
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlsdl_active_jobs",
		Help: "Download jobs currently running.",
	})

	SegmentsDownloadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlsdl_segments_downloaded_total",
		Help: "Media segments written to local storage.",
	})
	SegmentFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlsdl_segment_failures_total",
		Help: "Media segments that could not be downloaded.",
	})
	SegmentBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlsdl_segment_bytes_total",
		Help: "Bytes of media segments written to local storage.",
	})
	KeyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlsdl_key_failures_total",
		Help: "Encryption key downloads that failed.",
	})
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsdl_uploads_total",
		Help: "Object storage uploads of completed jobs, by result.",
	}, []string{"result"})
)
