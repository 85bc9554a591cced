package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ligustah/imgwarm/pkg/prefetch"
)

// Options configures the progress reporter.
type Options struct {
	// Concurrency is the prefetcher's in-flight limit (for display).
	Concurrency int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress for a prefetch job. It implements
// prefetch.OutcomeDelegate and prefetch.CompletionDelegate; attach it with
// prefetch.SetDelegate before starting the job.
type Reporter struct {
	opts Options

	completed atomic.Int32 // every finished item
	failed    atomic.Int32
	cached    atomic.Int32
	bytes     atomic.Int64

	mu         sync.Mutex
	job        *prefetch.Job
	total      int
	skipped    int
	finished   bool
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopped    bool
}

var (
	_ prefetch.OutcomeDelegate    = (*Reporter)(nil)
	_ prefetch.CompletionDelegate = (*Reporter)(nil)
)

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information for job.
func (r *Reporter) Start(job *prefetch.Job) {
	r.mu.Lock()
	r.job = job
	r.total = job.Total()
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[imgwarm] Warming %d images | Concurrency: %d\n",
		r.total, r.opts.Concurrency)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status. It waits
// until the final status has been written.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.job != nil
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// ImageOutcome records one finished image.
func (r *Reporter) ImageOutcome(_ *prefetch.Prefetcher, _ string, res prefetch.Result) {
	switch res.Outcome {
	case prefetch.Failed:
		r.failed.Add(1)
	case prefetch.AlreadyCached:
		r.cached.Add(1)
	default:
		r.bytes.Add(res.Bytes)
	}
	r.completed.Add(1)
}

// PrefetchFinished records the job's final counts.
func (r *Reporter) PrefetchFinished(_ *prefetch.Prefetcher, total, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = total
	r.skipped = skipped
	r.finished = true
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	completed := int(r.completed.Load())
	transferred := r.bytes.Load()
	inFlight := r.job.Summary().InFlight

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(transferred-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = transferred

	var percent float64
	if r.total > 0 {
		percent = float64(completed) / float64(r.total) * 100
	}

	pending := r.total - completed - inFlight
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[imgwarm] Progress: %.1f%% | %d / %d | %s | Speed: %s/s    ",
		percent,
		completed,
		r.total,
		FormatBytes(transferred),
		FormatBytes(int64(speed)),
	)
	fmt.Fprintf(r.opts.Output, "\n[imgwarm] Images: %d fetched | %d cached | %d failed | %d in-flight | %d pending    \033[A",
		completed-int(r.cached.Load())-int(r.failed.Load()),
		r.cached.Load(),
		r.failed.Load(),
		inFlight,
		pending,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	r.mu.Lock()
	defer r.mu.Unlock()

	completed := int(r.completed.Load())
	cached := int(r.cached.Load())
	failed := int(r.failed.Load())
	transferred := r.bytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(transferred) / max(duration.Seconds(), 0.001)

	status := "Complete!"
	if r.finished && completed < r.total {
		status = "Cancelled"
	}

	fmt.Fprintf(r.opts.Output, "\r[imgwarm] Progress: %d / %d | %s | %s    \n",
		completed,
		r.total,
		FormatBytes(transferred),
		status,
	)
	fmt.Fprintf(r.opts.Output, "[imgwarm] Images: %d fetched | %d cached | %d failed | %d skipped    \n",
		completed-cached-failed,
		cached,
		failed,
		r.skipped,
	)
	fmt.Fprintf(r.opts.Output, "[imgwarm] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats bytes as a human-readable IEC string, e.g. "1.5 MiB".
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string. SI suffixes are powers of
// 1000 ("1KB" is 1000) and IEC suffixes powers of 1024 ("1KiB" is 1024).
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string %q: %w", s, err)
	}
	return int64(n), nil
}
