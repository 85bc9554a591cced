package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	imghttp "github.com/ligustah/imgwarm/internal/http"
	"github.com/ligustah/imgwarm/internal/logger"
	"github.com/ligustah/imgwarm/pkg/imagecache"
	"github.com/ligustah/imgwarm/pkg/prefetch"
)

// DefaultMaxImageSize caps how much of a response body is read.
const DefaultMaxImageSize int64 = 50 << 20

var (
	// ErrTooLarge is returned when an image exceeds MaxImageSize.
	ErrTooLarge = errors.New("fetcher: image too large")
	// ErrNotImage is returned when the downloaded content is not an image.
	ErrNotImage = errors.New("fetcher: content is not an image")
)

// Options configures the fetcher.
type Options struct {
	// MaxImageSize is the largest body accepted, in bytes.
	// Default: 50 MiB
	MaxImageSize int64

	// AllowAnyContentType caches responses that do not sniff as images.
	AllowAnyContentType bool

	// HTTPOptions configures the HTTP client.
	HTTPOptions imghttp.Options

	// MaxConsecutiveFailures is the number of consecutive failures for one
	// host after which further fetches from it fail immediately.
	// Set to 0 to disable (default).
	MaxConsecutiveFailures int
}

// CircuitOpenError is returned for fetches from a host whose circuit breaker
// has tripped.
type CircuitOpenError struct {
	Host                string
	ConsecutiveFailures int
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s: %d consecutive failures", e.Host, e.ConsecutiveFailures)
}

// Fetcher downloads images into an imagecache.Cache. It implements
// prefetch.Fetcher.
type Fetcher struct {
	cache  *imagecache.Cache
	client *imghttp.Client
	opts   Options
	log    *logrus.Entry
	group  singleflight.Group

	mu       sync.Mutex
	failures map[string]int // consecutive failures by host
}

var _ prefetch.Fetcher = (*Fetcher)(nil)

// New creates a Fetcher that stores images in cache.
func New(cache *imagecache.Cache, opts Options) *Fetcher {
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = DefaultMaxImageSize
	}
	if opts.HTTPOptions.MaxIdleConnsPerHost == 0 {
		opts.HTTPOptions = imghttp.DefaultOptions()
	}
	return &Fetcher{
		cache:    cache,
		client:   imghttp.NewClient(opts.HTTPOptions),
		opts:     opts,
		log:      logger.GetLogger("fetcher"),
		failures: make(map[string]int),
	}
}

// Fetch makes sure url is in the cache. A fresh cache entry is reported as
// AlreadyCached without touching the network. An expired entry with an ETag
// is revalidated with a HEAD request and kept, reported as AlreadyCached, if
// the origin still serves the same ETag. Concurrent fetches of the same URL
// share one download; the callers that did not perform it report
// AlreadyCached.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) prefetch.Result {
	log := f.log.WithField("url", rawURL)

	host, err := hostOf(rawURL)
	if err != nil {
		return prefetch.Result{Outcome: prefetch.Failed, Err: err}
	}

	ok, err := f.cache.Exists(ctx, rawURL)
	if err != nil {
		return prefetch.Result{Outcome: prefetch.Failed, Err: fmt.Errorf("check cache: %w", err)}
	}
	if ok {
		log.Debug("cache hit")
		return prefetch.Result{Outcome: prefetch.AlreadyCached}
	}

	if err := f.checkCircuit(host); err != nil {
		return prefetch.Result{Outcome: prefetch.Failed, Err: err}
	}

	for {
		var leader bool
		v, err, _ := f.group.Do(rawURL, func() (any, error) {
			leader = true
			return f.refresh(ctx, rawURL)
		})
		if !leader {
			// The caller that ran the download gave up on it; try again
			// with our own context.
			if isContextErr(err) && ctx.Err() == nil {
				log.Debug("shared download cancelled, retrying")
				continue
			}
			if err != nil {
				return prefetch.Result{Outcome: prefetch.Failed, Err: err}
			}
			return prefetch.Result{Outcome: prefetch.AlreadyCached}
		}

		f.recordResult(host, err)
		if err != nil {
			return prefetch.Result{Outcome: prefetch.Failed, Err: err}
		}
		n := v.(int64)
		if n == revalidated {
			log.Debug("revalidated cached image")
			return prefetch.Result{Outcome: prefetch.AlreadyCached}
		}
		log.WithField("bytes", n).Debug("cached image")
		return prefetch.Result{Outcome: prefetch.Succeeded, Bytes: n}
	}
}

// revalidated is returned by refresh when the cached copy was kept.
const revalidated int64 = -1

// refresh brings the cache entry for url up to date, returning the number of
// bytes downloaded or revalidated.
func (f *Fetcher) refresh(ctx context.Context, rawURL string) (int64, error) {
	ok, err := f.revalidate(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	if ok {
		return revalidated, nil
	}
	return f.download(ctx, rawURL)
}

// revalidate reports whether an expired entry for url is still current,
// renewing it if so. Entries without an ETag are never revalidated.
func (f *Fetcher) revalidate(ctx context.Context, rawURL string) (bool, error) {
	e, err := f.cache.Stat(ctx, rawURL)
	if errors.Is(err, imagecache.ErrNotFound) || (err == nil && e.ETag == "") {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check cache: %w", err)
	}

	info, err := f.client.Head(ctx, rawURL)
	if err != nil {
		if isContextErr(err) {
			return false, err
		}
		// Some servers reject HEAD; the GET decides.
		f.log.WithField("url", rawURL).WithError(err).Debug("revalidation failed")
		return false, nil
	}
	if info.ETag != e.ETag {
		return false, nil
	}

	if err := f.cache.Refresh(ctx, rawURL); err != nil {
		if errors.Is(err, imagecache.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// download fetches url and writes it to the cache, returning the body size.
func (f *Fetcher) download(ctx context.Context, rawURL string) (int64, error) {
	resp, err := f.client.Get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > f.opts.MaxImageSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxImageSize+1))
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.opts.MaxImageSize {
		return 0, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.opts.MaxImageSize)
	}

	contentType := http.DetectContentType(data)
	if !imagecache.IsImage(contentType) {
		if !f.opts.AllowAnyContentType {
			return 0, fmt.Errorf("%w: %s", ErrNotImage, contentType)
		}
		if resp.ContentType != "" {
			contentType = resp.ContentType
		}
	}

	if err := f.cache.Put(ctx, rawURL, data, imagecache.Meta{
		ContentType: contentType,
		ETag:        resp.ETag,
	}); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (f *Fetcher) checkCircuit(host string) error {
	if f.opts.MaxConsecutiveFailures <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.failures[host]; n >= f.opts.MaxConsecutiveFailures {
		return &CircuitOpenError{Host: host, ConsecutiveFailures: n}
	}
	return nil
}

func (f *Fetcher) recordResult(host string, err error) {
	if f.opts.MaxConsecutiveFailures <= 0 {
		return
	}
	// Cancellation says nothing about the host.
	if errors.Is(err, context.Canceled) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, host)
		return
	}
	f.failures[host]++
	if f.failures[host] == f.opts.MaxConsecutiveFailures {
		f.log.WithFields(logrus.Fields{
			"host":     host,
			"failures": f.failures[host],
		}).Warn("circuit breaker tripped, skipping host")
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return u.Host, nil
}
