package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roboco-io/ocrtrain/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage the ocrtrain configuration.

Config file: ~/.ocrtrain/config.yaml (override with OCRTRAIN_CONFIG)

Subcommands:
  show    print the current configuration
  init    create a default config file
  set     change a value
  path    print the config file path`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	Long: `Print the configuration as stored in the config file.

Defaults are shown when no config file exists. Environment overrides are
listed below the file contents.`,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long: `Create a default config file.

Fails when the file already exists unless --force is given.`,
	RunE: runConfigInit,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a configuration value",
	Long: `Change a configuration value.

Keys:
  bundles_dir         bundle directory
  output_dir          output directory
  dataset.test_ratio  test fraction, between 0 and 1
  dataset.seed        shuffle seed
  dataset.dedupe      drop duplicate examples (true, false)
  label_path          label path in the feedback JSON
  namespace           recognition XML namespace (empty matches any)
  workers             conversion workers (0 uses every CPU)
  skip_invalid        skip malformed OCR documents (true, false)
  metrics_file        Prometheus textfile path
  log.level           debug, info, warn, error
  log.style           console, json

Examples:
  ocrtrain config set bundles_dir /srv/bundles
  ocrtrain config set dataset.seed 42`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader, err := config.NewLoader()
		if err != nil {
			return fmt.Errorf("failed to initialize config loader: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), loader.ConfigPath())
		return nil
	},
}

var configForce bool

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)

	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	loader, err := config.NewLoader()
	if err != nil {
		return fmt.Errorf("failed to initialize config loader: %w", err)
	}

	cfg, err := loader.LoadRaw()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if loader.Exists() {
		fmt.Fprintf(out, "config file: %s\n\n", loader.ConfigPath())
	} else {
		fmt.Fprintf(out, "config file: (defaults)\n\n")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintln(out, string(data))

	fmt.Fprintln(out, "environment:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	envVars := []struct {
		key  string
		desc string
	}{
		{config.EnvConfig, "config file path"},
		{config.EnvBundles, "bundle directory"},
		{config.EnvOutput, "output directory"},
		{config.EnvDebug, "debug logging"},
	}
	for _, ev := range envVars {
		status := "(unset)"
		if v := os.Getenv(ev.key); v != "" {
			status = v
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", ev.key, ev.desc, status)
	}
	return w.Flush()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader, err := config.NewLoader()
	if err != nil {
		return fmt.Errorf("failed to initialize config loader: %w", err)
	}

	if err := loader.Init(configForce); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "config file created: %s\n", loader.ConfigPath())
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	loader, err := config.NewLoader()
	if err != nil {
		return fmt.Errorf("failed to initialize config loader: %w", err)
	}

	cfg, err := loader.LoadRaw()
	if err != nil {
		return err
	}

	if err := cfg.Set(strings.ToLower(key), value); err != nil {
		return err
	}

	if err := loader.Save(cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "set %s = %s\n", key, value)
	return nil
}
