package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"icplookup/internal/config"
	"icplookup/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "icplookup",
	Short: "icplookup - ICP registry lookup with automatic captcha solving",
	Long: `icplookup queries the ICP filing registry for websites, apps,
mini-programs and quick-apps.

Every lookup runs the registry's challenge protocol end to end: it
acquires an auth token, fetches a slider captcha, solves it with the
bundled detection and similarity networks, verifies the solution and
only then issues the query. Successful pages are cached locally so
repeated lookups skip the captcha round.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		debug := cfg.Logging.Debug || verbose
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		return logging.Initialize(cfg.DataDir, debug, level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	defaultCfg := filepath.Join(defaultConfigDir(), "config.yaml")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(detailCmd)
	rootCmd.AddCommand(modelsCmd)
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".icplookup"
	}
	return filepath.Join(home, ".icplookup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
