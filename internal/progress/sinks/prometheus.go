package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/shotbatch/internal/progress"
)

// PrometheusSink exports run and capture counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram
	passes        prometheus.Counter

	captures        *prometheus.CounterVec
	captureBytes    *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shotbatch_runs_started_total",
			Help: "Batch runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotbatch_runs_completed_total",
			Help: "Batch runs completed partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shotbatch_run_duration_seconds",
			Help:    "Wall time per batch run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shotbatch_passes_total",
			Help: "Capture passes started, including retry passes.",
		}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotbatch_captures_total",
			Help: "Capture attempts partitioned by site, status class, and result.",
		}, []string{"site", "status_class", "result"}),
		captureBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotbatch_capture_bytes_total",
			Help: "Screenshot bytes captured per site.",
		}, []string{"site"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shotbatch_capture_duration_seconds",
			Help:    "Capture latency partitioned by result.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.passes,
		s.captures,
		s.captureBytes,
		s.captureDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StagePassStart:
		s.passes.Inc()
	case progress.StageRunDone:
		result := "success"
		switch {
		case evt.Kind == "canceled":
			result = "canceled"
		case evt.Failures > 0:
			result = "partial"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageCaptureDone:
		s.observeCapture(evt, "success")
	case progress.StageCaptureError:
		s.observeCapture(evt, "error")
	}
}

func (s *PrometheusSink) observeCapture(evt progress.Event, result string) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.captures.WithLabelValues(site, statusClass, result).Inc()
	if evt.Bytes > 0 {
		s.captureBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.captureDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
