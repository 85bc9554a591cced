// Package prefetch coordinates bulk image prefetching.
//
// A [Prefetcher] takes an ordered list of image URLs and hands each one to an
// injected [Fetcher] (the fetch-and-cache primitive), keeping at most N fetches
// in flight. Progress is reported per finished item and once per batch, and a
// running batch can be cancelled at any time.
//
// # Usage
//
//	p := prefetch.New(fetcher, prefetch.WithConcurrency(6))
//	job := p.Start(ctx, urls,
//	    prefetch.WithProgress(func(url string, finished, total int) { ... }),
//	    prefetch.WithCompletion(func(total, skipped int) { ... }),
//	)
//	summary, err := job.Wait(ctx)
//
// # Dispatch
//
// Start launches up to the concurrency limit. Every finished item refills one
// slot from the pending queue, so the in-flight count never exceeds the limit.
// The limit covers the whole Prefetcher: when a new job replaces a running
// one, the aborted fetches keep their slots until the Fetcher returns.
// URLs are not deduplicated: a URL listed twice is fetched twice.
//
// # Counting
//
// Finished counts successes, failures and cache hits. Skipped counts cache hits,
// items never started because the job was cancelled, and in-flight items that
// were aborted by cancellation. Failures are not fatal to the batch.
//
// # Jobs
//
// A Prefetcher runs one job at a time. Starting a new job while one is running
// cancels the running job first; its completion notification still fires
// exactly once, with the partial counts reached at that moment.
//
// Cancelling a job aborts in-flight fetches through their context and discards
// whatever they return. After cancellation:
//
//	finished + never dispatched + aborted == total
//
// # Notifications
//
// Delegate methods and per-job callbacks are delivered serially, in order, on a
// single notification goroutine owned by the Prefetcher. Observers therefore
// need no locking of their own, and may call Start or Cancel from inside a
// callback. The delegate is held weakly (see [SetDelegate]): once it has been
// garbage collected, notifications to it are dropped.
package prefetch
