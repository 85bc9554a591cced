package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ligustah/imgwarm/pkg/imagecache"
)

func newDeleteCmd(app *cli) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete url...",
		Short: "Remove cached images",
		Long: `Remove the cache entries of the given URLs. Prompts for confirmation
unless --force is given. URLs that are not cached are reported and skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Confirm deletion unless --force
			if !force {
				fmt.Fprintf(app.stdout, "Delete %d cached image(s) from %s? [y/N]: ", len(args), app.cfg.Cache)
				reader := bufio.NewReader(app.stdin)
				response, _ := reader.ReadString('\n')
				response = strings.TrimSpace(strings.ToLower(response))
				if response != "y" && response != "yes" {
					fmt.Fprintln(app.stderr, "Cancelled")
					return nil
				}
			}

			cache, err := app.openCache(ctx)
			if err != nil {
				return err
			}
			defer cache.Close()

			deleted := 0
			for _, url := range args {
				err := cache.Delete(ctx, url)
				switch {
				case errors.Is(err, imagecache.ErrNotFound):
					fmt.Fprintf(app.stderr, "Not cached: %s\n", url)
				case err != nil:
					return withCode(ExitStorageError, fmt.Errorf("delete %s: %w", url, err))
				default:
					deleted++
				}
			}

			fmt.Fprintf(app.stdout, "Deleted %d of %d image(s)\n", deleted, len(args))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip confirmation prompt")
	return cmd
}
