package prefetch

import "weak"

// ProgressDelegate is notified once per finished item.
type ProgressDelegate interface {
	ImagePrefetched(p *Prefetcher, url string, finished, total int)
}

// CompletionDelegate is notified once per job, when it completes or is
// cancelled.
type CompletionDelegate interface {
	PrefetchFinished(p *Prefetcher, total, skipped int)
}

// OutcomeDelegate is notified once per finished item with the fetch result.
// It is delivered just before the matching ImagePrefetched call.
type OutcomeDelegate interface {
	ImageOutcome(p *Prefetcher, url string, res Result)
}

// delegateRef resolves the current delegate, or nil once it is gone.
type delegateRef struct {
	load func() any
}

// SetDelegate attaches d as the Prefetcher's delegate. d may implement any of
// ProgressDelegate, CompletionDelegate and OutcomeDelegate.
//
// The Prefetcher does not keep d alive. When d becomes unreachable and is
// collected, notifications to it are silently skipped. Passing nil detaches
// the current delegate.
func SetDelegate[T any](p *Prefetcher, d *T) {
	if d == nil {
		p.ClearDelegate()
		return
	}
	wp := weak.Make(d)
	p.delegate.Store(&delegateRef{load: func() any {
		if v := wp.Value(); v != nil {
			return v
		}
		return nil
	}})
}

// ClearDelegate detaches the delegate.
func (p *Prefetcher) ClearDelegate() {
	p.delegate.Store(nil)
}

// currentDelegate returns the live delegate, or nil.
func (p *Prefetcher) currentDelegate() any {
	ref := p.delegate.Load()
	if ref == nil {
		return nil
	}
	return ref.load()
}
