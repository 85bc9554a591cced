package progress

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ligustah/imgwarm/pkg/prefetch"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"1.5KiB", 1536},
		{"256MiB", 256 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1TiB", 1024 * 1024 * 1024 * 1024},
		// SI units
		{"1KB", 1000},
		{"1MB", 1000 * 1000},
		{"1GB", 1000 * 1000 * 1000},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytesInvalid(t *testing.T) {
	_, err := ParseBytes("invalid")
	if err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{12 * time.Second, "12s"},
		{3*time.Minute + 4*time.Second, "3m 4s"},
		{2*time.Hour + 5*time.Minute + 1*time.Second, "2h 5m 1s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.input); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestReporterOutcomeTracking(t *testing.T) {
	reporter := NewReporter(Options{Concurrency: 2})

	reporter.ImageOutcome(nil, "a", prefetch.Result{Outcome: prefetch.Succeeded, Bytes: 256})
	reporter.ImageOutcome(nil, "b", prefetch.Result{Outcome: prefetch.AlreadyCached})
	reporter.ImageOutcome(nil, "c", prefetch.Result{Outcome: prefetch.Failed, Err: errors.New("boom")})

	if reporter.completed.Load() != 3 {
		t.Errorf("expected 3 completed, got %d", reporter.completed.Load())
	}
	if reporter.cached.Load() != 1 {
		t.Errorf("expected 1 cached, got %d", reporter.cached.Load())
	}
	if reporter.failed.Load() != 1 {
		t.Errorf("expected 1 failed, got %d", reporter.failed.Load())
	}
	if reporter.bytes.Load() != 256 {
		t.Errorf("expected 256 bytes, got %d", reporter.bytes.Load())
	}

	reporter.PrefetchFinished(nil, 3, 1)
	if reporter.total != 3 || reporter.skipped != 1 || !reporter.finished {
		t.Errorf("unexpected final counts: total=%d skipped=%d", reporter.total, reporter.skipped)
	}
}

// syncBuffer is a bytes.Buffer safe for the reporter goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporterStartStop(t *testing.T) {
	var out syncBuffer
	reporter := NewReporter(Options{
		Concurrency:    2,
		Output:         &out,
		UpdateInterval: 10 * time.Millisecond,
	})

	fetcher := prefetch.FetcherFunc(func(ctx context.Context, url string) prefetch.Result {
		if strings.HasSuffix(url, "cached") {
			return prefetch.Result{Outcome: prefetch.AlreadyCached}
		}
		return prefetch.Result{Outcome: prefetch.Succeeded, Bytes: 1024}
	})
	p := prefetch.New(fetcher, prefetch.WithConcurrency(2))
	prefetch.SetDelegate(p, reporter)

	job := p.Start(context.Background(), []string{"https://x/1", "https://x/2", "https://x/cached"})
	reporter.Start(job)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := job.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	time.Sleep(30 * time.Millisecond) // Let updates run

	reporter.Stop()
	reporter.Stop()

	output := out.String()
	for _, want := range []string{
		"[imgwarm] Warming 3 images | Concurrency: 2",
		"[imgwarm] Progress: 3 / 3 | 2.0 KiB | Complete!",
		"2 fetched | 1 cached | 0 failed | 1 skipped",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestReporterStopWithoutStart(t *testing.T) {
	reporter := NewReporter(Options{Output: &bytes.Buffer{}})
	reporter.Stop()
}
