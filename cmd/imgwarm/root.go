package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ligustah/imgwarm/internal/config"
	"github.com/ligustah/imgwarm/internal/logger"
	"github.com/ligustah/imgwarm/pkg/imagecache"
)

// Version information injected at build time.
var Version = "dev"

// cli holds the state shared by all commands of one invocation.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfgFile   string
	overrides config.Config // populated from flags
	cfg       config.Config
}

func newRootCmd(app *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "imgwarm",
		Short: "imgwarm - prefetch images into an object storage cache",
		Long: `imgwarm downloads batches of image URLs into a cache kept in object
storage (local directory, S3, GCS or in-memory) so that later readers find
them without going to the network.

Use "imgwarm [command] --help" for more information about a command.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&app.cfgFile, "config", "", "config file (YAML)")
	flags.StringVar(&app.overrides.Cache, "cache", "", "cache bucket URL, e.g. file:///var/cache/imgwarm or s3://bucket?region=eu-west-1")
	flags.StringVar(&app.overrides.CachePrefix, "prefix", "", "key prefix inside the cache bucket (default images/)")
	flags.StringVar(&app.overrides.Log.Level, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&app.overrides.Log.Format, "log-format", "", "log format: text or json")

	root.AddCommand(newWarmCmd(app))
	root.AddCommand(newListCmd(app))
	root.AddCommand(newPurgeCmd(app))
	root.AddCommand(newDeleteCmd(app))
	root.AddCommand(newVerifyCmd(app))

	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// loadConfig resolves the effective configuration: defaults, then the config
// file, then IMGWARM_ environment variables, then flags.
func (app *cli) loadConfig() error {
	cfg := config.Default()
	if app.cfgFile != "" {
		fileCfg, err := config.LoadFromFile(app.cfgFile)
		if err != nil {
			return withCode(ExitInvalidArgs, err)
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return withCode(ExitInvalidArgs, err)
	}
	cfg = cfg.Merge(app.overrides)
	if err := cfg.Validate(); err != nil {
		return withCode(ExitInvalidArgs, err)
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return withCode(ExitInvalidArgs, err)
	}
	// Standard streams follow the command's, so output can be captured.
	switch strings.ToLower(cfg.Log.Output) {
	case "stderr":
		logger.SetOutput(app.stderr)
	case "stdout":
		logger.SetOutput(app.stdout)
	}
	app.cfg = cfg
	return nil
}

// openCache opens the configured cache bucket.
func (app *cli) openCache(ctx context.Context) (*imagecache.Cache, error) {
	c, err := imagecache.Open(ctx, app.cfg.Cache,
		imagecache.WithPrefix(app.cfg.CachePrefix),
		imagecache.WithMaxAge(app.cfg.MaxCacheAge),
		imagecache.WithMaxSize(app.cfg.MaxCacheSize),
	)
	if err != nil {
		return nil, withCode(ExitStorageError, fmt.Errorf("open cache: %w", err))
	}
	return c, nil
}
