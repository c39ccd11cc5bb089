// Package cli implements the ocrtrain command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roboco-io/ocrtrain/internal/config"
	"github.com/roboco-io/ocrtrain/internal/logging"
)

var version = "dev"

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

var (
	logLevel string
	logStyle string
)

var rootCmd = &cobra.Command{
	Use:   "ocrtrain",
	Short: "Build text classification datasets from FineReader OCR output",
	Long: `ocrtrain reconstructs plain text from ABBYY FineReader XML and turns
labeled scan bundles into train/test files for a document classifier.

Configuration file: ~/.ocrtrain/config.yaml (override with OCRTRAIN_CONFIG)

Examples:
  ocrtrain convert scan.xml
  ocrtrain extract scan.xml.z --format text
  ocrtrain build --bundles ./bundles --output ./data`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ocrtrain %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logStyle, "log-style", "", "log style (console, json)")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config loader: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// newLogger builds a logger writing to the command's stderr. Flags win over
// the config file; verbose forces debug.
func newLogger(cmd *cobra.Command, cfg *config.Config, verbose bool) (*zap.Logger, error) {
	lc := logging.Config{
		Level: logging.Level(cfg.Log.Level),
		Style: logging.Style(cfg.Log.Style),
	}
	if cmd.Flags().Changed("log-level") {
		lc.Level = logging.Level(logLevel)
	}
	if cmd.Flags().Changed("log-style") {
		lc.Style = logging.Style(logStyle)
	}
	if verbose {
		lc.Level = logging.LevelDebug
	}
	return logging.NewWithSink(lc, zapcore.AddSync(cmd.ErrOrStderr()))
}
