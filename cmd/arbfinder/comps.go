package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudcurio/arbfinder/internal/config"
	"github.com/cloudcurio/arbfinder/internal/observability"
	"github.com/cloudcurio/arbfinder/internal/pipeline"
	"github.com/cloudcurio/arbfinder/internal/store"
	"github.com/cloudcurio/arbfinder/internal/titles"
)

var compsCommand = &cobra.Command{
	Use:   "comps <title or comp key>",
	Short: "Look up the sold-price aggregate for an item",
	Long: `Canonicalizes the given title and resolves it against the persisted comp
aggregates, including fuzzy matches against near-identical keys.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompsCmd,
}

var (
	compsDatabaseURL  string
	compsSimThreshold int
)

func init() {
	compsCommand.Flags().StringVar(&compsDatabaseURL, "db", "", "postgres:// URL or SQLite file path (defaults to DATABASE_URL env var)")
	compsCommand.Flags().IntVar(&compsSimThreshold, "sim-threshold", 0, "Fuzzy comp-key match threshold (0-100)")

	rootCmd.AddCommand(compsCommand)
}

func runCompsCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(ctx, compsDatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	cfg := config.Defaults()
	if compsSimThreshold > 0 {
		cfg.SimThreshold = compsSimThreshold
	}

	key := titles.NewCanonicalizer(nil).Canonicalize(args[0])

	// Exact hit first; fall back to a fuzzy match over the index.
	comp, err := st.GetComp(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if comp == nil {
		index, err := pipeline.LoadIndex(ctx, cfg, st)
		if err != nil {
			return err
		}
		canonical, score := index.Match(key)
		if snapshot, ok := index.Snapshot(canonical); ok {
			fmt.Fprintf(os.Stdout, "Matched %q (score %d)\n", canonical, score)
			comp = &snapshot
		}
	}
	if comp == nil {
		return fmt.Errorf("no comp data for %q", key)
	}

	observability.NewPrinter(os.Stdout).PrintComp(comp)
	return nil
}
