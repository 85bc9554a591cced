// Package progress provides progress reporting for prefetch jobs.
//
// This package outputs human-readable progress information to stdout,
// including completion percentage, transfer speed, and per-outcome counts.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Concurrency: 6,
//	    Output:      os.Stderr,
//	})
//	prefetch.SetDelegate(p, reporter)
//
//	job := p.Start(ctx, urls)
//	reporter.Start(job)
//	defer reporter.Stop()
//
// # Output Format
//
//	[imgwarm] Warming 1200 images | Concurrency: 6
//	[imgwarm] Progress: 45.2% | 542 / 1200 | 38 MiB | Speed: 2.1 MiB/s
//	[imgwarm] Images: 410 fetched | 120 cached | 12 failed | 6 in-flight | 652 pending
package progress
