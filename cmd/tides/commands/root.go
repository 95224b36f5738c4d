package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tides",
	Short: "Tides - order execution and simulation engine",
	Long: `Tides runs trading strategies against Kraken or against historical
bars, through one broker interface.

Usage:
  go run ./cmd/tides [command]

Examples:
  go run ./cmd/tides backtest run --from 2026-01-01 --to 2026-06-30 --freq 1h
  go run ./cmd/tides live run --freq 1h
  go run ./cmd/tides check db
  go run ./cmd/tides check logger`,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
