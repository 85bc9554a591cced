package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	imghttp "github.com/ligustah/imgwarm/internal/http"
	"github.com/ligustah/imgwarm/pkg/imagecache"
	"github.com/ligustah/imgwarm/pkg/prefetch"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 120)...)

func testOptions() Options {
	httpOpts := imghttp.DefaultOptions()
	httpOpts.RetryAttempts = 0
	httpOpts.Timeout = 5 * time.Second
	return Options{HTTPOptions: httpOpts}
}

func newTestCache(t *testing.T) *imagecache.Cache {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return imagecache.New(bucket)
}

// imageServer serves pngData on every path and counts requests.
func imageServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("ETag", `"img-v1"`)
		w.Write(pngData)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestFetchDownloadsThenHitsCache(t *testing.T) {
	ctx := context.Background()
	server, hits := imageServer(t)
	cache := newTestCache(t)
	f := New(cache, testOptions())

	url := server.URL + "/a.png"
	res := f.Fetch(ctx, url)
	if res.Outcome != prefetch.Succeeded {
		t.Fatalf("expected Succeeded, got %v (%v)", res.Outcome, res.Err)
	}
	if res.Bytes != int64(len(pngData)) {
		t.Errorf("expected %d bytes, got %d", len(pngData), res.Bytes)
	}

	data, e, err := cache.Get(ctx, url)
	if err != nil {
		t.Fatalf("cache.Get: %v", err)
	}
	if !bytes.Equal(data, pngData) {
		t.Error("cached data mismatch")
	}
	if e.ContentType != "image/png" {
		t.Errorf("expected image/png, got %s", e.ContentType)
	}
	if e.ETag != "img-v1" {
		t.Errorf("expected etag img-v1, got %s", e.ETag)
	}

	res = f.Fetch(ctx, url)
	if res.Outcome != prefetch.AlreadyCached {
		t.Errorf("expected AlreadyCached, got %v", res.Outcome)
	}
	if res.Bytes != 0 {
		t.Errorf("expected no bytes for cache hit, got %d", res.Bytes)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}
}

func TestFetchRejectsNonImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("<html><body>login required</body></html>"))
	}))
	defer server.Close()

	cache := newTestCache(t)
	f := New(cache, testOptions())

	res := f.Fetch(context.Background(), server.URL+"/fake.png")
	if res.Outcome != prefetch.Failed {
		t.Fatalf("expected Failed, got %v", res.Outcome)
	}
	if !errors.Is(res.Err, ErrNotImage) {
		t.Errorf("expected ErrNotImage, got %v", res.Err)
	}
	if ok, _ := cache.Exists(context.Background(), server.URL+"/fake.png"); ok {
		t.Error("non-image was cached")
	}
}

func TestFetchAllowAnyContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	}))
	defer server.Close()

	cache := newTestCache(t)
	opts := testOptions()
	opts.AllowAnyContentType = true
	f := New(cache, opts)

	url := server.URL + "/icon.svg"
	res := f.Fetch(context.Background(), url)
	if res.Outcome != prefetch.Succeeded {
		t.Fatalf("expected Succeeded, got %v (%v)", res.Outcome, res.Err)
	}
	e, err := cache.Stat(context.Background(), url)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if e.ContentType != "image/svg+xml" {
		t.Errorf("expected server content type, got %s", e.ContentType)
	}
}

func TestFetchTooLarge(t *testing.T) {
	big := append(append([]byte{}, pngData...), bytes.Repeat([]byte{0}, 1024)...)

	tests := []struct {
		name          string
		contentLength bool
	}{
		{"declared", true},
		{"streamed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentLength {
					w.Header().Set("Content-Length", strconv.Itoa(len(big)))
					w.Write(big)
					return
				}
				// Flushing before the body is written forces chunked encoding.
				w.(http.Flusher).Flush()
				w.Write(big)
			}))
			defer server.Close()

			opts := testOptions()
			opts.MaxImageSize = 512
			f := New(newTestCache(t), opts)

			res := f.Fetch(context.Background(), server.URL+"/big.png")
			if res.Outcome != prefetch.Failed {
				t.Fatalf("expected Failed, got %v", res.Outcome)
			}
			if !errors.Is(res.Err, ErrTooLarge) {
				t.Errorf("expected ErrTooLarge, got %v", res.Err)
			}
		})
	}
}

func TestFetchNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	f := New(newTestCache(t), testOptions())
	res := f.Fetch(context.Background(), server.URL+"/missing.png")
	if res.Outcome != prefetch.Failed {
		t.Fatalf("expected Failed, got %v", res.Outcome)
	}
	if !errors.Is(res.Err, imghttp.ErrNotFound) {
		t.Errorf("expected http.ErrNotFound, got %v", res.Err)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	f := New(newTestCache(t), testOptions())

	for _, url := range []string{"ftp://example.com/a.png", "not a url", "https:///nohost.png"} {
		res := f.Fetch(context.Background(), url)
		if res.Outcome != prefetch.Failed {
			t.Errorf("%q: expected Failed, got %v", url, res.Outcome)
		}
	}
}

func TestFetchConcurrentSameURL(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write(pngData)
	}))
	defer server.Close()
	f := New(newTestCache(t), testOptions())

	const n = 5
	url := server.URL + "/shared.png"
	results := make([]prefetch.Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Fetch(context.Background(), url)
		}(i)
	}

	deadline := time.Now().Add(5 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// Give the other callers time to join the in-flight download.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	var succeeded, cached int
	for _, res := range results {
		switch res.Outcome {
		case prefetch.Succeeded:
			succeeded++
		case prefetch.AlreadyCached:
			cached++
		default:
			t.Errorf("unexpected outcome %v (%v)", res.Outcome, res.Err)
		}
	}
	if succeeded != 1 || cached != n-1 {
		t.Errorf("expected 1 succeeded and %d cached, got %d and %d", n-1, succeeded, cached)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}
}

func TestFetchCircuitBreaker(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	opts := testOptions()
	opts.MaxConsecutiveFailures = 2
	f := New(newTestCache(t), opts)

	for i := 0; i < 4; i++ {
		res := f.Fetch(context.Background(), fmt.Sprintf("%s/%d.png", server.URL, i))
		if res.Outcome != prefetch.Failed {
			t.Fatalf("fetch %d: expected Failed, got %v", i, res.Outcome)
		}
		if i >= 2 {
			var ce *CircuitOpenError
			if !errors.As(res.Err, &ce) {
				t.Errorf("fetch %d: expected CircuitOpenError, got %v", i, res.Err)
			}
		}
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 requests before the breaker tripped, got %d", hits.Load())
	}
}

func TestFetchWithPrefetcher(t *testing.T) {
	server, hits := imageServer(t)
	f := New(newTestCache(t), testOptions())
	p := prefetch.New(f, prefetch.WithConcurrency(4))

	urls := make([]string, 12)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/img/%d.png", server.URL, i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := p.Start(ctx, urls).Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if s.Finished != 12 || s.Skipped != 0 || s.Failed != 0 {
		t.Errorf("first run: unexpected summary %+v", s)
	}

	s, err = p.Start(ctx, urls).Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if s.Finished != 12 || s.Skipped != 12 || s.Cached != 12 {
		t.Errorf("second run: expected every item cached, got %+v", s)
	}
	if hits.Load() != 12 {
		t.Errorf("expected 12 requests, got %d", hits.Load())
	}
}

func TestFetchSharedDownloadSurvivesCancelledCaller(t *testing.T) {
	var hits atomic.Int32
	firstStarted := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			// Hold the first download until its caller goes away.
			close(firstStarted)
			<-r.Context().Done()
			return
		}
		w.Write(pngData)
	}))
	defer server.Close()
	f := New(newTestCache(t), testOptions())
	url := server.URL + "/shared.png"

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstRes := make(chan prefetch.Result, 1)
	go func() { firstRes <- f.Fetch(firstCtx, url) }()
	<-firstStarted

	secondRes := make(chan prefetch.Result, 1)
	go func() { secondRes <- f.Fetch(context.Background(), url) }()
	// Give the second caller time to join the download in flight.
	time.Sleep(50 * time.Millisecond)
	cancelFirst()

	select {
	case res := <-firstRes:
		if res.Outcome != prefetch.Failed || !errors.Is(res.Err, context.Canceled) {
			t.Errorf("cancelled caller: expected Failed with context.Canceled, got %v (%v)", res.Outcome, res.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	select {
	case res := <-secondRes:
		if res.Outcome != prefetch.Succeeded {
			t.Errorf("live caller: expected Succeeded, got %v (%v)", res.Outcome, res.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("live caller did not return")
	}

	if hits.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", hits.Load())
	}
}

// etagServer serves pngData with a changeable ETag and counts requests by
// method.
type etagServer struct {
	*httptest.Server
	mu    sync.Mutex
	etag  string
	heads int
	gets  int
}

func newETagServer(t *testing.T, etag string) *etagServer {
	t.Helper()
	s := &etagServer{etag: etag}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if r.Method == http.MethodHead {
			s.heads++
		} else {
			s.gets++
		}
		w.Header().Set("ETag", `"`+s.etag+`"`)
		s.mu.Unlock()
		if r.Method == http.MethodGet {
			w.Write(pngData)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *etagServer) setETag(etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.etag = etag
}

func (s *etagServer) counts() (heads, gets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads, s.gets
}

func TestFetchRevalidatesExpiredEntry(t *testing.T) {
	server := newETagServer(t, "v1")

	var mu sync.Mutex
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()
	cache := imagecache.New(bucket, imagecache.WithClock(clock), imagecache.WithMaxAge(time.Hour))
	f := New(cache, testOptions())
	url := server.URL + "/photo.png"

	if res := f.Fetch(context.Background(), url); res.Outcome != prefetch.Succeeded {
		t.Fatalf("first fetch: expected Succeeded, got %v (%v)", res.Outcome, res.Err)
	}

	// Expired, unchanged at the origin: kept without a download.
	advance(2 * time.Hour)
	if res := f.Fetch(context.Background(), url); res.Outcome != prefetch.AlreadyCached {
		t.Fatalf("unchanged image: expected AlreadyCached, got %v (%v)", res.Outcome, res.Err)
	}
	if heads, gets := server.counts(); heads != 1 || gets != 1 {
		t.Errorf("unchanged image: expected 1 HEAD and 1 GET, got %d and %d", heads, gets)
	}
	if ok, err := cache.Exists(context.Background(), url); err != nil || !ok {
		t.Errorf("revalidated entry should be fresh again, got %v, %v", ok, err)
	}

	// Expired and changed at the origin: downloaded again.
	advance(2 * time.Hour)
	server.setETag("v2")
	if res := f.Fetch(context.Background(), url); res.Outcome != prefetch.Succeeded {
		t.Fatalf("changed image: expected Succeeded, got %v (%v)", res.Outcome, res.Err)
	}
	if heads, gets := server.counts(); heads != 2 || gets != 2 {
		t.Errorf("changed image: expected 2 HEADs and 2 GETs, got %d and %d", heads, gets)
	}
	_, e, err := cache.Get(context.Background(), url)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.ETag != "v2" {
		t.Errorf("expected stored ETag v2, got %q", e.ETag)
	}
}
