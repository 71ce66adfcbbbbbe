package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudcurio/arbfinder/internal/config"
	"github.com/cloudcurio/arbfinder/internal/export"
	"github.com/cloudcurio/arbfinder/internal/observability"
	"github.com/cloudcurio/arbfinder/internal/pipeline"
)

var runCommand = &cobra.Command{
	Use:   "run <query>",
	Short: "Crawl sources, match against sold comps, and rank opportunities",
	Long: `Runs the full arbitrage pipeline for one search query: collect eBay sold
comps, crawl the live marketplaces, match each listing to its comp aggregate,
and score the discount.

Configuration can be loaded from a JSON file using --config. Command-line
arguments override config file values.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineCmd,
}

var (
	runConfigPath    string
	runProviders     string
	runLiveLimit     int
	runCompLimit     int
	runSimThreshold  int
	runThresholdPct  float64
	runDatabaseURL   string
	runCSVPath       string
	runJSONPath      string
	runXLSXPath      string
	runEnqueueJobs   bool
	runUseBrowser    bool
	runWatch         bool
	runWatchInterval time.Duration
	runVerbose       bool
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	runCommand.Flags().StringVarP(&runProviders, "providers", "p", "", "Comma-separated live sources (default: shopgoodwill,govdeals,governmentsurplus)")
	runCommand.Flags().IntVar(&runLiveLimit, "live-limit", 0, "Maximum live listings per source")
	runCommand.Flags().IntVar(&runCompLimit, "comp-limit", 0, "Maximum sold comps to collect")
	runCommand.Flags().IntVar(&runSimThreshold, "sim-threshold", 0, "Fuzzy comp-key match threshold (0-100)")
	runCommand.Flags().Float64Var(&runThresholdPct, "threshold-pct", 0, "Minimum discount percent to qualify")
	runCommand.Flags().StringVar(&runDatabaseURL, "db", "", "postgres:// URL or SQLite file path (defaults to DATABASE_URL env var)")
	runCommand.Flags().StringVar(&runCSVPath, "csv", "", "Write opportunities to a CSV file")
	runCommand.Flags().StringVar(&runJSONPath, "json", "", "Write opportunities to a JSON file")
	runCommand.Flags().StringVar(&runXLSXPath, "xlsx", "", "Write opportunities to an XLSX spreadsheet")
	runCommand.Flags().BoolVar(&runEnqueueJobs, "enqueue-jobs", false, "Queue a pricing enrichment job per qualifying opportunity")
	runCommand.Flags().BoolVar(&runUseBrowser, "use-browser", false, "Use headless browser for SPA marketplaces (requires Chrome)")
	runCommand.Flags().BoolVarP(&runWatch, "watch", "w", false, "Re-run the pipeline on an interval until interrupted")
	runCommand.Flags().DurationVar(&runWatchInterval, "watch-interval", 15*time.Minute, "Interval between watch-mode runs")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed crawl and evaluation output")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if runWatch {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
	}
	query := args[0]

	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := pipeline.RunOptions{
		Query:       query,
		Config:      cfg,
		Store:       st,
		EnqueueJobs: runEnqueueJobs,
	}
	if cfg.Verbose {
		opts.OnProgress = func(e pipeline.ProgressEvent) {
			_, _ = fmt.Fprintf(os.Stdout, "[%s] %s\n", e.Step, e.Message)
		}
	}

	if !runWatch {
		return runOnce(ctx, opts, cfg)
	}

	// Watch mode: run immediately, then on every tick until the context
	// is cancelled.
	ticker := time.NewTicker(runWatchInterval)
	defer ticker.Stop()
	for {
		if err := runOnce(ctx, opts, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, opts pipeline.RunOptions, cfg config.Config) error {
	result, err := pipeline.Run(ctx, opts)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	if cfg.Verbose {
		printer.PrintCrawlReport(result.Report)
	}
	printer.PrintOpportunities(result.Opportunities)

	if runCSVPath != "" {
		if err := export.WriteCSV(runCSVPath, result.Opportunities); err != nil {
			return err
		}
	}
	if runJSONPath != "" {
		if err := export.WriteJSON(runJSONPath, result.Opportunities); err != nil {
			return err
		}
	}
	if runXLSXPath != "" {
		if err := export.WriteXLSX(runXLSXPath, result.Opportunities); err != nil {
			return err
		}
	}
	if len(result.JobIDs) > 0 {
		fmt.Fprintf(os.Stdout, "Enqueued %d enrichment jobs\n", len(result.JobIDs))
	}
	return nil
}

// loadRunConfig loads the optional config file, applies explicit CLI
// overrides, and validates the merged result.
func loadRunConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if runConfigPath != "" {
		loaded, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	// Only override if the flag was explicitly set
	if cmd.Flags().Changed("providers") {
		cfg.Providers = runProviders
	}
	if cmd.Flags().Changed("live-limit") {
		cfg.LiveLimit = runLiveLimit
	}
	if cmd.Flags().Changed("comp-limit") {
		cfg.CompLimit = runCompLimit
	}
	if cmd.Flags().Changed("sim-threshold") {
		cfg.SimThreshold = runSimThreshold
	}
	if cmd.Flags().Changed("threshold-pct") {
		cfg.ThresholdPct = runThresholdPct
	}
	if cmd.Flags().Changed("db") {
		cfg.DatabaseURL = runDatabaseURL
	}
	if cmd.Flags().Changed("use-browser") {
		cfg.UseBrowser = runUseBrowser
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = runVerbose
	}

	cfg = cfg.MergeWithDefaults(config.Defaults())
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
