package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudcurio/arbfinder/internal/config"
	"github.com/cloudcurio/arbfinder/internal/observability"
	"github.com/cloudcurio/arbfinder/internal/pipeline"
	"github.com/cloudcurio/arbfinder/internal/sources"
	"github.com/cloudcurio/arbfinder/internal/store"
)

var ingestCommand = &cobra.Command{
	Use:   "ingest",
	Short: "Import listings from a CSV or JSON file",
	Long: `Imports listings from a local CSV or JSON file, validates them, stores
them, and evaluates each one against the persisted sold comps.`,
	RunE: runIngestCmd,
}

var (
	ingestFile        string
	ingestConfigPath  string
	ingestDatabaseURL string
)

func init() {
	ingestCommand.Flags().StringVarP(&ingestFile, "file", "f", "", "Path to the CSV or JSON listings file (required)")
	ingestCommand.Flags().StringVar(&ingestConfigPath, "config", "", "Path to config.json file")
	ingestCommand.Flags().StringVar(&ingestDatabaseURL, "db", "", "postgres:// URL or SQLite file path (defaults to DATABASE_URL env var)")
	_ = ingestCommand.MarkFlagRequired("file")

	rootCmd.AddCommand(ingestCommand)
}

func runIngestCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var cfg config.Config
	if ingestConfigPath != "" {
		loaded, err := config.LoadConfig(ingestConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}
	if cmd.Flags().Changed("db") {
		cfg.DatabaseURL = ingestDatabaseURL
	}

	st, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	adapter := sources.NewManual(ingestFile)
	raws, err := adapter.Fetch(ctx, "", 1)
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}

	var listings []store.Listing
	var unparseable int
	for _, raw := range raws {
		listing, err := adapter.Parse(raw)
		if err != nil {
			unparseable++
			continue
		}
		listings = append(listings, listing)
	}

	result, err := pipeline.Ingest(ctx, cfg, st, listings)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Imported %d listings (%d rejected, %d unparseable)\n",
		len(result.Accepted), len(result.Rejected), unparseable)

	observability.NewPrinter(os.Stdout).PrintOpportunities(result.Opportunities)
	return nil
}
