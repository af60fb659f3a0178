// Package main implements the mailroom CLI for processing email
// attachments against the decisioning pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/config"
	"github.com/halcyoncap/mailroom/internal/logging"
	"github.com/halcyoncap/mailroom/internal/services"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailroom",
	Short: "Email attachment decisioning pipeline",
	Long: `mailroom validates, deduplicates, identifies, classifies, and files
email attachments for a private-market document workflow.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mailroom %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}

// buildContainer loads configuration and constructs the service graph.
func buildContainer(cmd *cobra.Command) (*services.Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	c, err := services.New(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("service initialization failed", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	return c, nil
}
