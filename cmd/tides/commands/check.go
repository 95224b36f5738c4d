package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/tides/pkg/config"
	"github.com/wonny/tides/pkg/database"
	"github.com/wonny/tides/pkg/logger"
)

// checkCmd groups environment smoke checks.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Smoke-check the runtime environment",
}

var checkDBCmd = &cobra.Command{
	Use:   "db",
	Short: "Verify database connectivity",
	RunE:  runCheckDB,
}

var checkLoggerCmd = &cobra.Command{
	Use:   "logger",
	Short: "Exercise the structured logger",
	RunE:  runCheckLogger,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.AddCommand(checkDBCmd)
	checkCmd.AddCommand(checkLoggerCmd)
}

func runCheckDB(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is not set")
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	fmt.Println("Database connection OK")
	return nil
}

func runCheckLogger(cmd *cobra.Command, args []string) error {
	fmt.Println("JSON format:")
	jsonLog := logger.New("debug", "json")
	jsonLog.Debug("Debug message")
	jsonLog.WithField("symbol", "BTC/USD").Info("Structured field")
	jsonLog.WithFields(map[string]interface{}{
		"strategy": "macross",
		"qty":      0.5,
	}).Info("Multiple fields")
	jsonLog.WithError(errors.New("sample failure")).Error("Error context")

	fmt.Println()
	fmt.Println("Console format:")
	consoleLog := logger.New("debug", "console")
	consoleLog.Debug("Debug message")
	consoleLog.Infof("Formatted %s message", "info")
	consoleLog.Warn("Warning message")

	return nil
}
