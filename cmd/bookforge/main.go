package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bookforge/internal/config"
	"bookforge/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	opsDir     string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bookforge",
	Short: "bookforge - staged book-generation pipeline",
	Long: `bookforge runs multi-stage content-generation pipelines against
rate-limited LLM providers.

Stages execute in strict order; tasks inside a stage run concurrently
where the plan allows it. Remote calls are wrapped in rate limiting,
retry with backoff, and a circuit breaker. Every chapter revision is
recorded in the version store with full diff history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if opsDir != "" {
			cfg.OpsDir = opsDir
		}
		if verbose {
			cfg.Logging.DebugMode = true
		}

		if err := logging.Initialize(cfg.OpsDir, cfg.Logging.DebugMode); err != nil {
			return fmt.Errorf("failed to initialize pipeline logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "bookforge.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&opsDir, "ops-dir", "", "Override the ops directory (artifacts, versions, logs)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
