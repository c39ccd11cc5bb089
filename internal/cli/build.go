package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roboco-io/ocrtrain/internal/config"
	"github.com/roboco-io/ocrtrain/internal/pipeline"
)

var (
	buildBundles     string
	buildOutput      string
	buildTestRatio   float64
	buildSeed        uint64
	buildWorkers     int
	buildLabelPath   string
	buildSkipInvalid bool
	buildDedupe      bool
	buildMetricsFile string
	buildVerbose     bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build train/test files from labeled scan bundles",
	Long: `Build a text classification dataset from SQLite scan bundles.

Every request with feedback is read from the *.db files of the bundle
directory. Its OCR document is reconstructed to plain text and labeled with
the value at --label-path in the feedback JSON. The examples are split into
train.tsv and test.tsv, and the sorted label set is written to
countries.json.

Environment variables:
  OCRTRAIN_BUNDLES   bundle directory
  OCRTRAIN_OUTPUT    output directory
  OCRTRAIN_DEBUG     debug logging

Examples:
  ocrtrain build
  ocrtrain build --bundles ./bundles --output ./data --seed 42
  ocrtrain build --skip-invalid --dedupe --metrics-file /var/lib/node_exporter/ocrtrain.prom`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildBundles, "bundles", "", "bundle directory (default from config)")
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "output directory (default from config)")
	buildCmd.Flags().Float64Var(&buildTestRatio, "test-ratio", 0.2, "fraction of examples in the test set")
	buildCmd.Flags().Uint64Var(&buildSeed, "seed", 0, "shuffle seed")
	buildCmd.Flags().IntVarP(&buildWorkers, "workers", "w", 0, "conversion workers (0 uses every CPU)")
	buildCmd.Flags().StringVar(&buildLabelPath, "label-path", "", "label path in the feedback JSON (default from config)")
	buildCmd.Flags().BoolVar(&buildSkipInvalid, "skip-invalid", false, "skip malformed OCR documents instead of failing")
	buildCmd.Flags().BoolVar(&buildDedupe, "dedupe", false, "drop duplicate feature/label pairs")
	buildCmd.Flags().StringVar(&buildMetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	buildCmd.Flags().BoolVarP(&buildVerbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg, buildVerbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runCfg := pipelineConfig(cmd, cfg)

	res, err := pipeline.Run(ctx, runCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build dataset: %w", err)
	}

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "requests: %d (unlabeled %d, invalid %d, duplicates %d)\n",
		res.Requests, res.Unlabeled, res.Invalid, res.Duplicates)
	fmt.Fprintf(out, "train: %d -> %s\n", res.Train, res.TrainPath)
	fmt.Fprintf(out, "test: %d -> %s\n", res.Test, res.TestPath)
	fmt.Fprintf(out, "labels: %d -> %s\n", len(res.Vocabulary), res.VocabularyPath)
	if res.MetricsPath != "" {
		fmt.Fprintf(out, "metrics: %s\n", res.MetricsPath)
	}
	return nil
}

// pipelineConfig merges the config file with the flags the user set.
func pipelineConfig(cmd *cobra.Command, cfg *config.Config) pipeline.Config {
	runCfg := pipeline.Config{
		BundlesDir:  cfg.BundlesDir,
		OutputDir:   cfg.OutputDir,
		TestRatio:   cfg.Dataset.TestRatio,
		Seed:        cfg.Dataset.Seed,
		Workers:     cfg.Workers,
		LabelPath:   cfg.LabelPath,
		Namespace:   cfg.Namespace,
		SkipInvalid: cfg.SkipInvalid,
		Dedupe:      cfg.Dataset.Dedupe,
		MetricsFile: cfg.MetricsFile,
	}

	flags := cmd.Flags()
	if flags.Changed("bundles") {
		runCfg.BundlesDir = buildBundles
	}
	if flags.Changed("output") {
		runCfg.OutputDir = buildOutput
	}
	if flags.Changed("test-ratio") {
		runCfg.TestRatio = buildTestRatio
	}
	if flags.Changed("seed") {
		runCfg.Seed = buildSeed
	}
	if flags.Changed("workers") {
		runCfg.Workers = buildWorkers
	}
	if flags.Changed("label-path") {
		runCfg.LabelPath = buildLabelPath
	}
	if flags.Changed("skip-invalid") {
		runCfg.SkipInvalid = buildSkipInvalid
	}
	if flags.Changed("dedupe") {
		runCfg.Dedupe = buildDedupe
	}
	if flags.Changed("metrics-file") {
		runCfg.MetricsFile = buildMetricsFile
	}
	return runCfg
}
