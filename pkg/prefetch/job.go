package prefetch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job is the handle of one prefetch batch.
type Job struct {
	id         uuid.UUID
	p          *Prefetcher
	urls       []string
	onProgress ProgressFunc
	onComplete CompletionFunc

	ctx       context.Context
	cancel    context.CancelFunc
	stopWatch func() bool

	// Guarded by p.mu.
	state        State
	next         int // index of the next URL to dispatch
	active       int
	finished     int
	skipped      int
	failed       int
	cached       int
	undispatched int
	aborted      int
	bytes        int64
	startedAt    time.Time
	endedAt      time.Time

	done chan struct{}
}

// Summary is a point-in-time snapshot of a job's counters.
type Summary struct {
	ID       uuid.UUID
	State    State
	Total    int
	Finished int // successes, failures and cache hits
	Skipped  int // cache hits, never dispatched, aborted
	Failed   int
	Cached   int
	InFlight int

	// Set once the job is cancelled.
	Undispatched int
	Aborted      int

	Bytes   int64
	Elapsed time.Duration
}

// ID returns the job's unique identifier.
func (j *Job) ID() uuid.UUID {
	return j.id
}

// Total returns the number of URLs in the job.
func (j *Job) Total() int {
	return len(j.urls)
}

// Cancel cancels the job if it is still running. Cancelling a job that has
// finished, or has been superseded, does nothing.
func (j *Job) Cancel() {
	j.p.cancelJob(j)
}

// State returns the job's current state.
func (j *Job) State() State {
	j.p.mu.Lock()
	defer j.p.mu.Unlock()
	return j.state
}

// Done returns a channel that is closed after the job's completion
// notification has been delivered.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job's completion notification has been delivered or
// ctx is done, and returns the final summary.
func (j *Job) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-j.done:
		return j.Summary(), nil
	case <-ctx.Done():
		return j.Summary(), ctx.Err()
	}
}

// Summary returns a snapshot of the job's counters.
func (j *Job) Summary() Summary {
	j.p.mu.Lock()
	defer j.p.mu.Unlock()

	end := j.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	return Summary{
		ID:           j.id,
		State:        j.state,
		Total:        len(j.urls),
		Finished:     j.finished,
		Skipped:      j.skipped,
		Failed:       j.failed,
		Cached:       j.cached,
		InFlight:     j.active,
		Undispatched: j.undispatched,
		Aborted:      j.aborted,
		Bytes:        j.bytes,
		Elapsed:      end.Sub(j.startedAt),
	}
}
