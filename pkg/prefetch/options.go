package prefetch

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultConcurrency is the number of fetches kept in flight when no
// concurrency limit is configured.
const DefaultConcurrency = 6

// Metrics receives coordinator instrumentation. A nil Metrics disables it.
type Metrics interface {
	// ObserveItem records one finished item and how long its fetch took.
	ObserveItem(outcome Outcome, duration time.Duration)
	// InFlight adjusts the number of fetches currently running.
	InFlight(delta int)
	// ObserveJob records a job reaching a terminal state.
	ObserveJob(state State, total, skipped int)
}

// Option configures a Prefetcher.
type Option func(*options)

type options struct {
	concurrency int
	metrics     Metrics
	logger      logrus.FieldLogger
}

// WithConcurrency sets the maximum number of fetches in flight, counted
// across jobs: fetches of a superseded job hold their slot until they return.
// Values <= 0 select DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithMetrics sets the instrumentation sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger sets the logger used for per-item failures and job transitions.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// ProgressFunc is called once per finished item.
type ProgressFunc func(url string, finished, total int)

// CompletionFunc is called once when a job completes or is cancelled.
type CompletionFunc func(total, skipped int)

// JobOption configures a single job.
type JobOption func(*Job)

// WithProgress registers a per-item progress callback for the job.
func WithProgress(fn ProgressFunc) JobOption {
	return func(j *Job) {
		j.onProgress = fn
	}
}

// WithCompletion registers the job's one-shot completion callback.
func WithCompletion(fn CompletionFunc) JobOption {
	return func(j *Job) {
		j.onComplete = fn
	}
}

func observeItem(m Metrics, outcome Outcome, d time.Duration) {
	if m != nil {
		m.ObserveItem(outcome, d)
	}
}

func inFlight(m Metrics, delta int) {
	if m != nil {
		m.InFlight(delta)
	}
}

func observeJob(m Metrics, state State, total, skipped int) {
	if m != nil {
		m.ObserveJob(state, total, skipped)
	}
}
