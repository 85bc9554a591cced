package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(app *cli) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that cached entries hold image data",
		Long: `Read the head of every cached entry and check that it is an image.
With --remove, bad entries are deleted so the next warm downloads them again.
Exits with a non-zero status when bad entries were found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cache, err := app.openCache(ctx)
			if err != nil {
				return err
			}
			defer cache.Close()

			result, err := cache.Verify(ctx, remove)
			if err != nil {
				return withCode(ExitStorageError, fmt.Errorf("verify cache: %w", err))
			}

			fmt.Fprintf(app.stdout, "Checked %d entries\n", result.Checked)
			if result.Valid {
				fmt.Fprintln(app.stdout, "All entries are valid")
				return nil
			}

			for _, msg := range result.Errors {
				fmt.Fprintf(app.stdout, "  %s\n", msg)
			}
			fmt.Fprintf(app.stdout, "%d not images, %d empty, %d removed\n",
				result.NotImage, result.Empty, result.Removed)
			if remove && result.Removed == len(result.Bad) {
				return nil
			}
			return withCode(ExitValidationFailed, fmt.Errorf("%d bad entries", len(result.Bad)))
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "delete bad entries")
	return cmd
}
