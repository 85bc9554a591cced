package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ligustah/imgwarm/internal/testutils"
)

// runCLI runs imgwarm with args and returns the exit code and output.
func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := runWith(append(args, "--log-level", "error"), strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func testCacheURL(t *testing.T) string {
	t.Helper()
	return "file://" + filepath.ToSlash(t.TempDir())
}

func startServer(t *testing.T) *testutils.ImageServer {
	t.Helper()
	return testutils.StartImageServer(t,
		testutils.TestImage{Name: "a.png", Data: testutils.GeneratePNG(t, 8, 8, 1)},
		testutils.TestImage{Name: "b.png", Data: testutils.GeneratePNG(t, 8, 8, 2)},
		testutils.TestImage{Name: "notes.txt", Data: []byte("just some text, not an image")},
	)
}

func TestWarmThenList(t *testing.T) {
	srv := startServer(t)
	cache := testCacheURL(t)

	code, out, errOut := runCLI(t, "", "warm", "--cache", cache, srv.URL("a.png"), srv.URL("b.png"))
	if code != ExitSuccess {
		t.Fatalf("warm failed with exit code %d: %s", code, errOut)
	}
	if !strings.Contains(out, "2 images: 2 fetched") {
		t.Errorf("unexpected warm output: %q", out)
	}

	// Second run is served from the cache.
	code, out, errOut = runCLI(t, "", "warm", "--cache", cache, srv.URL("a.png"), srv.URL("b.png"))
	if code != ExitSuccess {
		t.Fatalf("second warm failed with exit code %d: %s", code, errOut)
	}
	if !strings.Contains(out, "0 fetched (0 B), 2 cached") {
		t.Errorf("unexpected second warm output: %q", out)
	}
	if n := srv.Requests("a.png"); n != 1 {
		t.Errorf("expected 1 request for a.png, got %d", n)
	}

	code, out, errOut = runCLI(t, "", "list", "--cache", cache)
	if code != ExitSuccess {
		t.Fatalf("list failed with exit code %d: %s", code, errOut)
	}
	for _, want := range []string{srv.URL("a.png"), srv.URL("b.png"), "image/png", "2 entries"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestWarmReadsURLFile(t *testing.T) {
	srv := startServer(t)
	cache := testCacheURL(t)

	list := "# images\n\n" + srv.URL("a.png") + "\n   \n"
	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte(list), 0644); err != nil {
		t.Fatalf("write url file: %v", err)
	}

	code, out, errOut := runCLI(t, "", "warm", "--cache", cache, "--file", path)
	if code != ExitSuccess {
		t.Fatalf("warm failed with exit code %d: %s", code, errOut)
	}
	if !strings.Contains(out, "1 images: 1 fetched") {
		t.Errorf("unexpected warm output: %q", out)
	}

	// Arguments and stdin are combined.
	code, out, errOut = runCLI(t, srv.URL("b.png")+"\n", "warm", "--cache", cache, "-f", "-", srv.URL("a.png"))
	if code != ExitSuccess {
		t.Fatalf("warm from stdin failed with exit code %d: %s", code, errOut)
	}
	if !strings.Contains(out, "2 images: 1 fetched") || !strings.Contains(out, "1 cached") {
		t.Errorf("unexpected warm output: %q", out)
	}
}

func TestWarmFailedImage(t *testing.T) {
	srv := startServer(t)

	code, out, _ := runCLI(t, "", "warm", "--cache", testCacheURL(t), srv.URL("a.png"), srv.URL("missing.png"))
	if code != ExitFetchFailed {
		t.Fatalf("expected exit code %d, got %d", ExitFetchFailed, code)
	}
	if !strings.Contains(out, "1 failed") {
		t.Errorf("unexpected warm output: %q", out)
	}
}

func TestWarmProgress(t *testing.T) {
	srv := startServer(t)

	code, _, errOut := runCLI(t, "", "warm", "--cache", testCacheURL(t), "--progress", "-c", "1",
		srv.URL("a.png"), srv.URL("b.png"))
	if code != ExitSuccess {
		t.Fatalf("warm failed with exit code %d: %s", code, errOut)
	}
	for _, want := range []string{"Warming 2 images | Concurrency: 1", "Complete!"} {
		if !strings.Contains(errOut, want) {
			t.Errorf("progress output missing %q:\n%s", want, errOut)
		}
	}
}

func TestWarmInvalidArgs(t *testing.T) {
	cache := testCacheURL(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no urls", []string{"warm", "--cache", cache}},
		{"bad image size", []string{"warm", "--cache", cache, "--max-image-size", "huge", "http://x/a.png"}},
		{"negative concurrency", []string{"warm", "--cache", cache, "-c", "-1", "http://x/a.png"}},
		{"unknown flag", []string{"warm", "--cache", cache, "--bogus"}},
		{"unknown command", []string{"frobnicate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, "", tt.args...); code != ExitInvalidArgs {
				t.Errorf("expected exit code %d, got %d", ExitInvalidArgs, code)
			}
		})
	}
}

func TestMissingCache(t *testing.T) {
	t.Setenv("IMGWARM_CACHE", "")

	code, _, errOut := runCLI(t, "", "list")
	if code != ExitInvalidArgs {
		t.Fatalf("expected exit code %d, got %d", ExitInvalidArgs, code)
	}
	if !strings.Contains(errOut, "cache is required") {
		t.Errorf("unexpected error output: %q", errOut)
	}
}

func TestCacheFromEnv(t *testing.T) {
	srv := startServer(t)
	t.Setenv("IMGWARM_CACHE", testCacheURL(t))

	if code, _, errOut := runCLI(t, "", "warm", srv.URL("a.png")); code != ExitSuccess {
		t.Fatalf("warm failed with exit code %d: %s", code, errOut)
	}
	code, out, _ := runCLI(t, "", "list")
	if code != ExitSuccess || !strings.Contains(out, "1 entries") {
		t.Errorf("expected one entry, got exit code %d:\n%s", code, out)
	}
}

func TestDelete(t *testing.T) {
	srv := startServer(t)
	cache := testCacheURL(t)

	if code, _, errOut := runCLI(t, "", "warm", "--cache", cache, srv.URL("a.png")); code != ExitSuccess {
		t.Fatalf("warm failed with exit code %d: %s", code, errOut)
	}

	// Declining the prompt keeps the entry.
	code, _, errOut := runCLI(t, "n\n", "delete", "--cache", cache, srv.URL("a.png"))
	if code != ExitSuccess || !strings.Contains(errOut, "Cancelled") {
		t.Fatalf("expected cancelled delete, got exit code %d: %s", code, errOut)
	}
	if _, out, _ := runCLI(t, "", "list", "--cache", cache); !strings.Contains(out, "1 entries") {
		t.Fatalf("entry should survive a declined delete:\n%s", out)
	}

	code, out, _ := runCLI(t, "y\n", "delete", "--cache", cache, srv.URL("a.png"))
	if code != ExitSuccess || !strings.Contains(out, "Deleted 1 of 1") {
		t.Fatalf("unexpected delete result, exit code %d: %s", code, out)
	}

	code, out, errOut = runCLI(t, "", "delete", "--force", "--cache", cache, srv.URL("a.png"))
	if code != ExitSuccess {
		t.Fatalf("delete of missing entry failed with exit code %d", code)
	}
	if !strings.Contains(errOut, "Not cached") || !strings.Contains(out, "Deleted 0 of 1") {
		t.Errorf("unexpected output for missing entry: %q / %q", out, errOut)
	}

	if code, _, _ := runCLI(t, "", "delete", "--force", "--cache", cache); code != ExitInvalidArgs {
		t.Errorf("expected exit code %d without URLs, got %d", ExitInvalidArgs, code)
	}
}

func TestVerify(t *testing.T) {
	srv := startServer(t)
	cache := testCacheURL(t)

	code, _, errOut := runCLI(t, "", "warm", "--cache", cache, "--allow-any-content-type",
		srv.URL("a.png"), srv.URL("notes.txt"))
	if code != ExitSuccess {
		t.Fatalf("warm failed with exit code %d: %s", code, errOut)
	}

	code, out, _ := runCLI(t, "", "verify", "--cache", cache)
	if code != ExitValidationFailed {
		t.Fatalf("expected exit code %d, got %d:\n%s", ExitValidationFailed, code, out)
	}
	if !strings.Contains(out, "Checked 2 entries") || !strings.Contains(out, srv.URL("notes.txt")) {
		t.Errorf("unexpected verify output:\n%s", out)
	}

	if code, out, _ := runCLI(t, "", "verify", "--cache", cache, "--remove"); code != ExitSuccess {
		t.Fatalf("verify --remove failed with exit code %d:\n%s", code, out)
	}

	code, out, _ = runCLI(t, "", "verify", "--cache", cache)
	if code != ExitSuccess || !strings.Contains(out, "All entries are valid") {
		t.Errorf("expected a clean cache, got exit code %d:\n%s", code, out)
	}
}

func TestPurge(t *testing.T) {
	srv := startServer(t)
	cache := testCacheURL(t)

	if code, _, errOut := runCLI(t, "", "warm", "--cache", cache, srv.URL("a.png"), srv.URL("b.png")); code != ExitSuccess {
		t.Fatalf("warm failed with exit code %d: %s", code, errOut)
	}

	// Nothing is old enough under the default age limit.
	code, out, _ := runCLI(t, "", "purge", "--cache", cache)
	if code != ExitSuccess || !strings.Contains(out, "0 expired, 0 evicted") {
		t.Fatalf("unexpected purge result, exit code %d:\n%s", code, out)
	}

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("max_cache_age: 1ns\n"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	code, out, _ = runCLI(t, "", "purge", "--config", cfgPath, "--cache", cache)
	if code != ExitSuccess {
		t.Fatalf("purge failed with exit code %d", code)
	}
	if !strings.Contains(out, "2 expired") || !strings.Contains(out, "Cache now holds 0 entries") {
		t.Errorf("unexpected purge output:\n%s", out)
	}
}

func TestReadURLs(t *testing.T) {
	input := "https://a/1.png\n# skipped\n\n  https://a/2.png  \n#https://a/3.png\n"
	urls, err := readURLs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("readURLs: %v", err)
	}
	want := []string{"https://a/1.png", "https://a/2.png"}
	if len(urls) != len(want) {
		t.Fatalf("expected %v, got %v", want, urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("url %d: expected %q, got %q", i, want[i], urls[i])
		}
	}
}

func TestLogsGoToCommandStderr(t *testing.T) {
	srv := startServer(t)

	var stdout, stderr bytes.Buffer
	code := runWith([]string{"warm", "--cache", testCacheURL(t), "--log-level", "info", srv.URL("a.png")},
		strings.NewReader(""), &stdout, &stderr)
	if code != ExitSuccess {
		t.Fatalf("warm failed with exit code %d: %s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "warm finished") {
		t.Errorf("expected log output on stderr, got %q", stderr.String())
	}
	if strings.Contains(stdout.String(), "warm finished") {
		t.Errorf("log output leaked to stdout: %q", stdout.String())
	}
}
