package prefetch

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ligustah/imgwarm/internal/logger"
)

// Outcome is how a single fetch-and-cache operation resolved.
type Outcome int

const (
	// Succeeded means the image was downloaded and cached.
	Succeeded Outcome = iota
	// Failed means the fetch or the cache write failed.
	Failed
	// AlreadyCached means no network transfer was needed.
	AlreadyCached
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case AlreadyCached:
		return "cached"
	default:
		return "unknown"
	}
}

// Result is returned by a Fetcher for one URL.
type Result struct {
	Outcome Outcome
	Err     error // Set when Outcome is Failed
	Bytes   int64 // Bytes transferred, zero for cache hits
}

// Fetcher is the fetch-and-cache primitive. Fetch is called exactly once per
// dispatched URL, each call on its own goroutine. Implementations should
// return promptly once ctx is cancelled.
type Fetcher interface {
	Fetch(ctx context.Context, url string) Result
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) Result

// Fetch calls f(ctx, url).
func (f FetcherFunc) Fetch(ctx context.Context, url string) Result {
	return f(ctx, url)
}

// State is the lifecycle state of a job.
type State int

const (
	// Idle is reported by a Prefetcher with no running job.
	Idle State = iota
	// Running jobs have items pending or in flight.
	Running
	// Completed jobs have every item accounted for.
	Completed
	// Cancelled jobs were stopped by Cancel, a superseding Start, or their
	// context.
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Prefetcher runs prefetch jobs against a Fetcher. It is safe for concurrent
// use. The zero value is not usable; create one with New.
type Prefetcher struct {
	fetcher Fetcher
	opts    options
	log     logrus.FieldLogger

	delegate atomic.Pointer[delegateRef]
	notes    serialQueue

	mu       sync.Mutex
	active   *Job // GUARDED_BY(mu)
	inFlight int  // fetches running for any job, aborted ones included; GUARDED_BY(mu)
}

// New creates a Prefetcher that uses f to fetch and cache each URL.
func New(f Fetcher, opts ...Option) *Prefetcher {
	p := &Prefetcher{fetcher: f}
	for _, opt := range opts {
		opt(&p.opts)
	}
	if p.opts.concurrency <= 0 {
		p.opts.concurrency = DefaultConcurrency
	}
	p.log = p.opts.logger
	if p.log == nil {
		p.log = logger.GetLogger("prefetch")
	}
	return p
}

// Concurrency returns the configured in-flight limit.
func (p *Prefetcher) Concurrency() int {
	return p.opts.concurrency
}

// Start begins prefetching urls and returns the job handle. Any job already
// running is cancelled first. The urls slice is copied.
//
// An empty list completes immediately: the completion notification is
// delivered once, with zero counts, and no progress notification fires.
//
// Cancelling ctx cancels the job. Values carried by ctx are passed on to the
// Fetcher.
func (p *Prefetcher) Start(ctx context.Context, urls []string, opts ...JobOption) *Job {
	j := &Job{
		id:        uuid.New(),
		p:         p,
		urls:      slices.Clone(urls),
		state:     Running,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.ctx, j.cancel = context.WithCancel(context.WithoutCancel(ctx))

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev := p.active; prev != nil {
		p.log.WithField("job", prev.id).Info("superseding running prefetch job")
		p.cancelLocked(prev)
	}

	p.log.WithFields(logrus.Fields{
		"job":         j.id,
		"total":       len(j.urls),
		"concurrency": p.opts.concurrency,
	}).Debug("starting prefetch job")

	if len(j.urls) == 0 {
		p.finishLocked(j, Completed)
		return j
	}

	p.active = j
	p.fillLocked(j)
	// Runs on its own goroutine and takes mu, so it cannot observe the job
	// before this critical section ends.
	j.stopWatch = context.AfterFunc(ctx, func() {
		p.cancelJob(j)
	})
	return j
}

// Cancel cancels the running job, if any.
func (p *Prefetcher) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.cancelLocked(p.active)
	}
}

// Active returns the running job, or nil.
func (p *Prefetcher) Active() *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// State returns Running while a job is active and Idle otherwise.
func (p *Prefetcher) State() State {
	if p.Active() != nil {
		return Running
	}
	return Idle
}

// Close cancels the running job and waits until its notifications have been
// delivered.
func (p *Prefetcher) Close() {
	p.mu.Lock()
	j := p.active
	if j != nil {
		p.cancelLocked(j)
	}
	p.mu.Unlock()

	if j != nil {
		<-j.done
	}
}

// cancelJob cancels j if it is still running.
func (p *Prefetcher) cancelJob(j *Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked(j)
}

// fillLocked dispatches pending URLs of j while the Prefetcher has free
// slots. Fetches of superseded jobs keep their slots until they return.
// Must be called with p.mu held.
func (p *Prefetcher) fillLocked(j *Job) {
	for p.inFlight < p.opts.concurrency && j.next < len(j.urls) {
		p.dispatchLocked(j)
	}
}

// dispatchLocked starts the next pending URL of j.
// Must be called with p.mu held.
func (p *Prefetcher) dispatchLocked(j *Job) {
	url := j.urls[j.next]
	j.next++
	j.active++
	p.inFlight++
	inFlight(p.opts.metrics, 1)

	go func() {
		start := time.Now()
		res := p.fetcher.Fetch(j.ctx, url)
		p.itemDone(j, url, res, time.Since(start))
	}()
}

// itemDone records one finished fetch and refills the freed slot.
func (p *Prefetcher) itemDone(j *Job, url string, res Result, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	j.active--
	p.inFlight--
	inFlight(p.opts.metrics, -1)

	if j.state != Running {
		// Aborted by cancellation and already counted as skipped. The
		// freed slot goes to the job that replaced it, if any.
		if p.active != nil {
			p.fillLocked(p.active)
		}
		return
	}

	j.finished++
	switch res.Outcome {
	case AlreadyCached:
		j.skipped++
		j.cached++
	case Failed:
		j.failed++
		p.log.WithFields(logrus.Fields{
			"job": j.id,
			"url": url,
		}).WithError(res.Err).Warn("prefetch failed")
	default:
		j.bytes += res.Bytes
	}
	observeItem(p.opts.metrics, res.Outcome, elapsed)

	finished, total := j.finished, len(j.urls)
	p.notes.post(func() {
		p.notifyItem(j, url, res, finished, total)
	})

	if finished == total {
		p.finishLocked(j, Completed)
		return
	}
	p.fillLocked(j)
}

// cancelLocked moves a running job to Cancelled. Items never dispatched and
// items still in flight are counted as skipped; in-flight fetches are aborted
// and their results discarded.
// Must be called with p.mu held.
func (p *Prefetcher) cancelLocked(j *Job) {
	if j.state != Running {
		return
	}
	j.undispatched = len(j.urls) - j.next
	j.aborted = j.active
	j.skipped += j.undispatched + j.aborted
	j.next = len(j.urls)

	p.log.WithFields(logrus.Fields{
		"job":          j.id,
		"finished":     j.finished,
		"undispatched": j.undispatched,
		"aborted":      j.aborted,
	}).Info("prefetch job cancelled")

	p.finishLocked(j, Cancelled)
}

// finishLocked moves j into a terminal state and posts its completion
// notification, which is always the last notification of the job.
// Must be called with p.mu held.
func (p *Prefetcher) finishLocked(j *Job, state State) {
	j.state = state
	j.endedAt = time.Now()
	if p.active == j {
		p.active = nil
	}
	if j.stopWatch != nil {
		j.stopWatch()
	}
	j.cancel()

	total, skipped := len(j.urls), j.skipped
	observeJob(p.opts.metrics, state, total, skipped)
	if state == Completed {
		p.log.WithFields(logrus.Fields{
			"job":     j.id,
			"total":   total,
			"skipped": skipped,
			"failed":  j.failed,
		}).Debug("prefetch job completed")
	}

	p.notes.post(func() {
		p.notifyFinished(j, total, skipped)
		close(j.done)
	})
}

func (p *Prefetcher) notifyItem(j *Job, url string, res Result, finished, total int) {
	if d := p.currentDelegate(); d != nil {
		if od, ok := d.(OutcomeDelegate); ok {
			od.ImageOutcome(p, url, res)
		}
		if pd, ok := d.(ProgressDelegate); ok {
			pd.ImagePrefetched(p, url, finished, total)
		}
	}
	if j.onProgress != nil {
		j.onProgress(url, finished, total)
	}
}

func (p *Prefetcher) notifyFinished(j *Job, total, skipped int) {
	if d := p.currentDelegate(); d != nil {
		if cd, ok := d.(CompletionDelegate); ok {
			cd.PrefetchFinished(p, total, skipped)
		}
	}
	if j.onComplete != nil {
		j.onComplete(total, skipped)
	}
}
