package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawlrules/internal/progress"
)

// PrometheusSink exports crawl run progress: runs started, finished and in
// flight, plus per-host item counts by outcome and status class.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec

	items        *prometheus.CounterVec
	itemDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg, reusing collectors
// that an earlier sink already registered there. A nil reg uses the default registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{tracker: newRunTracker()}
	var err error
	if s.runsStarted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawl_runs_started_total",
		Help: "Crawl runs that have started.",
	})); err != nil {
		return nil, err
	}
	if s.runsFinished, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_runs_finished_total",
		Help: "Crawl runs finished, partitioned by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.runsActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crawl_runs_active",
		Help: "Crawl runs currently in progress.",
	})); err != nil {
		return nil, err
	}
	if s.runDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawl_run_duration_seconds",
		Help:    "Wall time per finished crawl run.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.items, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_items_total",
		Help: "Crawl items completed, partitioned by host, outcome and status class.",
	}, []string{"host", "outcome", "status_class"})); err != nil {
		return nil, err
	}
	if s.itemDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawl_item_duration_seconds",
		Help:    "Fetch time per completed item, redirects included.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"host"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Consume implements progress.Sink. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.runsActive.Inc()
			}
		case progress.StageRunDone:
			s.finishRun(evt, "success")
		case progress.StageRunError:
			s.finishRun(evt, "error")
		case progress.StageItemDone:
			s.observeItem(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) observeItem(evt progress.Event) {
	status := evt.Status
	if status == "" {
		status = progress.StatusOther
	}
	s.items.WithLabelValues(evt.Host, evt.Outcome, string(status)).Inc()
	if evt.Dur > 0 {
		s.itemDuration.WithLabelValues(evt.Host).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
