// Package main provides the entry point for the arbfinder CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "arbfinder",
	Short: "Resale arbitrage finder",
	Long:  "arbfinder crawls surplus and auction marketplaces, compares live prices against eBay sold comps, and surfaces listings priced well below their resale value.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
