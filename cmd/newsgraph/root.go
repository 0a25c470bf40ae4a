package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deusflow/newsgraph/internal/app"
	"github.com/deusflow/newsgraph/internal/config"
	"github.com/deusflow/newsgraph/internal/logger"
)

type flags struct {
	config      string
	baseURL     string
	query       string
	timespan    string
	maxRecords  int
	englishOnly bool
	manifestMax int
	databaseURL string
	metricsFile string
	debug       bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "newsgraph [output-root]",
		Short: "Ingest GDELT article metadata into daily Parquet partitions",
		Long: `newsgraph fetches recent articles matching a query from the GDELT DOC 2.0 API,
merges them into one Parquet file per UTC day under <output-root>/parquet and
refreshes <output-root>/manifests/index.json.

Settings come from built-in defaults, then the YAML config file, then
environment variables, then flags.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sum, err := app.Run(ctx, cfg, app.Options{})
			if err != nil {
				return err
			}
			sum.Print(cmd.OutOrStdout())
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "path to config file (default $XDG_CONFIG_HOME/newsgraph/config.yaml)")
	pf.StringVar(&f.baseURL, "base-url", "", "public base URL prefixed to manifest entries")
	pf.IntVar(&f.manifestMax, "manifest-max-files", 0, "number of newest partitions listed in the manifest")
	pf.BoolVar(&f.debug, "debug", false, "enable debug logging")

	fl := root.Flags()
	fl.StringVar(&f.query, "query", "", "GDELT query terms")
	fl.StringVar(&f.timespan, "timespan", "", "GDELT lookback window (e.g. 1h, 24h, 7d)")
	fl.IntVar(&f.maxRecords, "max-records", 0, "records requested per call (1-250)")
	fl.BoolVar(&f.englishOnly, "english-only", true, "restrict to English-language sources")
	fl.StringVar(&f.databaseURL, "database-url", "", "Postgres DSN to mirror new rows into")
	fl.StringVar(&f.metricsFile, "metrics-textfile", "", "write Prometheus metrics to this file")

	root.AddCommand(newManifestCmd(f), newVersionCmd())
	return root
}

func newManifestCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:           "manifest [output-root]",
		Short:         "Rebuild manifests/index.json from the partitions on disk",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, args)
			if err != nil {
				return err
			}
			m, err := app.RebuildManifest(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Manifest: %d file(s)\n", len(m.Files))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "newsgraph %s (commit: %s)\n", version, commit)
		},
	}
}

// loadConfig layers explicitly set flags over file and environment settings.
func loadConfig(cmd *cobra.Command, f *flags, args []string) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	changed := cmd.Flags().Changed
	if len(args) == 1 {
		cfg.OutRoot = args[0]
	}
	if changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if changed("manifest-max-files") {
		cfg.ManifestMaxFiles = f.manifestMax
	}
	if changed("query") {
		cfg.Query = f.query
	}
	if changed("timespan") {
		cfg.Timespan = f.timespan
	}
	if changed("max-records") {
		cfg.MaxRecords = f.maxRecords
	}
	if changed("english-only") {
		cfg.OnlyEnglish = f.englishOnly
	}
	if changed("database-url") {
		cfg.DatabaseURL = f.databaseURL
	}
	if changed("metrics-textfile") {
		cfg.MetricsTextfile = f.metricsFile
	}
	if changed("debug") {
		cfg.Debug = f.debug
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Debug)
	return cfg, nil
}
