package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligustah/imgwarm/internal/logger"
	"github.com/ligustah/imgwarm/internal/metrics"
	"github.com/ligustah/imgwarm/internal/progress"
	"github.com/ligustah/imgwarm/pkg/imagecache"
)

func newPurgeCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired entries and shrink the cache below its size limit",
		Long: `Remove every entry older than max_cache_age. If the remaining entries
still exceed max_cache_size, the oldest are removed until the cache is at
half the limit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := app.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cache.Close()
			return app.purgeAndReport(cmd.Context(), cache, nil)
		},
	}
}

// purgeAndReport purges cache and prints the result. m may be nil.
func (app *cli) purgeAndReport(ctx context.Context, cache *imagecache.Cache, m *metrics.Metrics) error {
	stats, err := cache.Purge(ctx)
	if m != nil {
		m.ObservePurge(stats.Expired, stats.Evicted)
	}
	if err != nil {
		return withCode(ExitStorageError, fmt.Errorf("purge cache: %w", err))
	}
	if m != nil {
		m.SetCacheSize(stats.RemainingCount, stats.RemainingBytes)
	}

	logger.GetLogger("cli").
		WithField("expired", stats.Expired).
		WithField("evicted", stats.Evicted).
		WithField("freed", stats.FreedBytes).
		Info("cache purged")

	fmt.Fprintf(app.stdout, "Scanned %d entries: %d expired, %d evicted, %s freed\n",
		stats.Scanned, stats.Expired, stats.Evicted, progress.FormatBytes(stats.FreedBytes))
	fmt.Fprintf(app.stdout, "Cache now holds %d entries, %s\n",
		stats.RemainingCount, progress.FormatBytes(stats.RemainingBytes))
	return nil
}
