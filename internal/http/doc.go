// Package http provides the HTTP client used to download images.
//
// This package handles:
//   - Connection pooling for many concurrent downloads
//   - HEAD requests to get file metadata
//   - Retry with exponential backoff on transport errors, 5xx and 429
//   - Sentinel errors for 404, 403 and 401
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    MaxIdleConnsPerHost: 100,
//	    Timeout:             30 * time.Second,
//	    RetryAttempts:       3,
//	})
//
//	resp, err := client.Get(ctx, url)
//	defer resp.Body.Close()
//	// resp.ContentType, resp.ETag, resp.ContentLength
package http
