package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ligustah/imgwarm/internal/progress"
	"github.com/ligustah/imgwarm/pkg/imagecache"
)

func newListCmd(app *cli) *cobra.Command {
	var expiredOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached images, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runList(cmd.Context(), expiredOnly)
		},
	}
	cmd.Flags().BoolVar(&expiredOnly, "expired", false, "only list expired entries")
	return cmd
}

func (app *cli) runList(ctx context.Context, expiredOnly bool) error {
	cache, err := app.openCache(ctx)
	if err != nil {
		return err
	}
	defer cache.Close()

	entries, err := cache.List(ctx)
	if err != nil {
		return withCode(ExitStorageError, fmt.Errorf("list cache: %w", err))
	}

	shown := entries[:0]
	var total int64
	for _, e := range entries {
		if expiredOnly && !e.Expired {
			continue
		}
		shown = append(shown, e)
		total += e.Size
	}

	printEntries(app.stdout, shown)
	fmt.Fprintf(app.stdout, "\n%d entries, %s\n", len(shown), progress.FormatBytes(total))
	return nil
}

// printEntries writes entries as a table.
func printEntries(w io.Writer, entries []imagecache.Entry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"URL", "Size", "Type", "Cached At", "Expired"})

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, e := range entries {
		expired := "no"
		if e.Expired {
			expired = "yes"
		}
		table.Append([]string{
			e.URL,
			progress.FormatBytes(e.Size),
			e.ContentType,
			e.CachedAt.Local().Format(time.DateTime),
			expired,
		})
	}
	table.Render()
}
