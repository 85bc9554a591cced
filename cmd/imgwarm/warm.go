package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ligustah/imgwarm/internal/fetcher"
	"github.com/ligustah/imgwarm/internal/logger"
	"github.com/ligustah/imgwarm/internal/metrics"
	"github.com/ligustah/imgwarm/internal/progress"
	"github.com/ligustah/imgwarm/pkg/prefetch"
)

type warmFlags struct {
	file            string
	maxImageSize    string
	concurrency     int
	progress        bool
	allowAnyType    bool
	maxHostFailures int
	metricsAddr     string
	purge           bool
}

func newWarmCmd(app *cli) *cobra.Command {
	var f warmFlags

	cmd := &cobra.Command{
		Use:   "warm [url...]",
		Short: "Download images into the cache",
		Long: `Download every URL into the cache, skipping those already cached and
fresh. URLs are taken from the arguments and from --file, one per line;
blank lines and lines starting with # are ignored. Use --file - to read
from standard input.

Press Ctrl+C to cancel: images in flight are abandoned and the rest are
skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runWarm(cmd.Context(), args, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "file with one URL per line (- for stdin)")
	flags.IntVarP(&f.concurrency, "concurrency", "c", 0, "maximum concurrent downloads (default 6)")
	flags.BoolVar(&f.progress, "progress", false, "show progress output")
	flags.StringVar(&f.maxImageSize, "max-image-size", "", "largest accepted image, e.g. 50MiB")
	flags.BoolVar(&f.allowAnyType, "allow-any-content-type", false, "cache responses that are not images")
	flags.IntVar(&f.maxHostFailures, "max-host-failures", 0, "stop fetching from a host after this many consecutive failures (0 disables)")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while warming")
	flags.BoolVar(&f.purge, "purge", false, "purge expired and excess entries after warming")

	return cmd
}

func (app *cli) runWarm(ctx context.Context, args []string, f warmFlags) error {
	log := logger.GetLogger("cli")
	cfg := app.cfg

	if f.concurrency != 0 {
		cfg.Concurrency = f.concurrency
	}
	if f.progress {
		cfg.Progress = true
	}
	if f.maxImageSize != "" {
		n, err := progress.ParseBytes(f.maxImageSize)
		if err != nil {
			return withCode(ExitInvalidArgs, fmt.Errorf("invalid --max-image-size: %w", err))
		}
		cfg.MaxImageSize = n
	}
	if f.allowAnyType {
		cfg.AllowAnyContentType = true
	}
	if f.maxHostFailures != 0 {
		cfg.MaxHostFailures = f.maxHostFailures
	}
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return withCode(ExitInvalidArgs, err)
	}

	urls, err := app.collectURLs(args, f.file)
	if err != nil {
		return withCode(ExitInvalidArgs, err)
	}
	if len(urls) == 0 {
		return withCode(ExitInvalidArgs, errors.New("no URLs given"))
	}

	cache, err := app.openCache(ctx)
	if err != nil {
		return err
	}
	defer cache.Close()

	opts := []prefetch.Option{
		prefetch.WithConcurrency(cfg.Concurrency),
		prefetch.WithLogger(logger.GetLogger("prefetch")),
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
		opts = append(opts, prefetch.WithMetrics(m))

		srv := serveMetrics(cfg.MetricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.GetLogger("metrics").WithError(err).Debug("metrics server shutdown")
			}
		}()
	}

	fetch := fetcher.New(cache, fetcher.Options{
		MaxImageSize:           cfg.MaxImageSize,
		AllowAnyContentType:    cfg.AllowAnyContentType,
		HTTPOptions:            cfg.HTTPOptions(),
		MaxConsecutiveFailures: cfg.MaxHostFailures,
	})
	p := prefetch.New(fetch, opts...)
	defer p.Close()

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			Concurrency: cfg.Concurrency,
			Output:      app.stderr,
		})
		prefetch.SetDelegate(p, reporter)
	}

	job := p.Start(ctx, urls)
	if reporter != nil {
		reporter.Start(job)
	}

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(app.stderr, "\n[imgwarm] Cancelling...")
			p.Cancel()
		case <-job.Done():
		}
	}()

	// The job watches ctx itself, so waiting without a deadline is safe.
	summary, _ := job.Wait(context.Background())
	if reporter != nil {
		reporter.Stop()
	}

	log.WithField("job", summary.ID).
		WithField("total", summary.Total).
		WithField("failed", summary.Failed).
		WithField("cached", summary.Cached).
		WithField("skipped", summary.Skipped).
		Info("warm finished")

	if !cfg.Progress {
		fmt.Fprintf(app.stdout, "%d images: %d fetched (%s), %d cached, %d failed, %d skipped\n",
			summary.Total,
			summary.Finished-summary.Cached-summary.Failed,
			progress.FormatBytes(summary.Bytes),
			summary.Cached,
			summary.Failed,
			summary.Skipped-summary.Cached,
		)
	}

	if f.purge && summary.State == prefetch.Completed {
		if err := app.purgeAndReport(ctx, cache, m); err != nil {
			return err
		}
	}

	switch {
	case summary.State == prefetch.Cancelled:
		return withCode(ExitCancelled, errors.New("cancelled"))
	case summary.Failed > 0:
		return withCode(ExitFetchFailed, fmt.Errorf("%d of %d images failed", summary.Failed, summary.Total))
	}
	return nil
}

// collectURLs gathers URLs from args and, if set, the file at path.
func (app *cli) collectURLs(args []string, path string) ([]string, error) {
	urls := append([]string(nil), args...)
	if path == "" {
		return urls, nil
	}

	var r io.Reader
	if path == "-" {
		r = app.stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open URL file: %w", err)
		}
		defer file.Close()
		r = file
	}

	fromFile, err := readURLs(r)
	if err != nil {
		return nil, fmt.Errorf("read URL file: %w", err)
	}
	return append(urls, fromFile...), nil
}

// readURLs reads one URL per line, ignoring blank lines and # comments.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// serveMetrics exposes reg on addr until the returned server is shut down.
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log := logger.GetLogger("metrics")
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	return srv
}
