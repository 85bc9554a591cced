// Package fetcher is the fetch-and-cache primitive behind the prefetch
// coordinator.
//
// For each URL the [Fetcher] first asks the image cache. A fresh entry is
// reported as already cached and no request is made. Otherwise the image is
// downloaded through the retrying HTTP client, checked, and written to the
// cache.
//
// # Checks
//
//   - Bodies larger than MaxImageSize are rejected with [ErrTooLarge].
//   - Content is sniffed with http.DetectContentType. Anything that is not
//     image/* is rejected with [ErrNotImage] unless AllowAnyContentType is set.
//
// # Revalidation
//
// An expired entry that was stored with an ETag is checked with a HEAD
// request first. If the origin still reports the same ETag the entry is
// renewed in place and reported as already cached; otherwise, or if the HEAD
// request fails, the image is downloaded again.
//
// # Duplicate URLs
//
// Concurrent fetches of one URL share a single download. The callers that
// waited on another's download report AlreadyCached. If the caller running
// the shared download is cancelled, the others retry with their own context.
//
// # Circuit Breaker
//
// When MaxConsecutiveFailures is set, a host that fails that many times in a
// row is skipped: further fetches from it fail with [CircuitOpenError] until
// the Fetcher is recreated.
package fetcher
