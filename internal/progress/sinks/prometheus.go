package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thehouseofbailey/personamapper/internal/progress"
)

// PrometheusSink exports job progress via Prometheus. Its collectors cover
// the job lifecycle plus per-site URL outcomes and mapping throughput; they
// complement the request-level collectors owned by the metrics package.
type PrometheusSink struct {
	jobsStarted prometheus.Counter
	jobsSettled *prometheus.CounterVec
	jobsRunning prometheus.Gauge
	jobRuntime  *prometheus.HistogramVec

	urlOutcomes *prometheus.CounterVec
	urlBytes    *prometheus.CounterVec
	mappings    *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progress_jobs_started_total",
			Help: "Total crawl jobs that have started.",
		}),
		jobsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_jobs_settled_total",
			Help: "Jobs that reached a terminal state, by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "progress_jobs_running",
			Help: "Crawl jobs currently executing.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progress_job_runtime_seconds",
			Help:    "Wall time per settled job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		urlOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_urls_total",
			Help: "Processed URLs partitioned by site and fetch status.",
		}, []string{"site", "status"}),
		urlBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_url_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		mappings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_mappings_total",
			Help: "Persona mappings written, by analysis strategy.",
		}, []string{"strategy"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsSettled,
		s.jobsRunning,
		s.jobRuntime,
		s.urlOutcomes,
		s.urlBytes,
		s.mappings,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			s.jobsStarted.Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case progress.StageJobDone:
			s.settle(evt, "completed")
		case progress.StageJobError:
			s.settle(evt, "failed")
		case progress.StageJobCancelled:
			s.settle(evt, "cancelled")
		case progress.StageJobPaused:
			// Paused jobs stop running but are not settled.
			if s.tracker.complete(evt.JobID) {
				s.jobsRunning.Dec()
			}
		case progress.StageURLDone:
			s.observeURL(evt)
		case progress.StageAnalysisDone:
			if evt.Mappings > 0 {
				s.mappings.WithLabelValues(evt.Strategy).Add(float64(evt.Mappings))
			}
		}
	}
	return nil
}

func (s *PrometheusSink) settle(evt progress.Event, result string) {
	s.jobsSettled.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeURL(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	s.urlOutcomes.WithLabelValues(site, evt.FetchStatus).Inc()
	if evt.Bytes > 0 {
		s.urlBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker deduplicates start and settle transitions so the running gauge
// stays correct when a job emits repeated lifecycle events.
type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
