package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roboco-io/ocrtrain/internal/ir"
	"github.com/roboco-io/ocrtrain/internal/parser"
	"github.com/roboco-io/ocrtrain/internal/parser/abbyy"
	"github.com/roboco-io/ocrtrain/internal/reconstruct"
)

var (
	convertOutput    string
	convertNamespace string
	convertVerbose   bool
	convertQuiet     bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Reconstruct plain text from a FineReader XML file",
	Long: `Reconstruct the plain text of a FineReader XML recognition result.

Blocks are separated by a blank line. Lines inside a block are separated by
a single line break. zlib-compressed files (.z, .zz, .zlib) are inflated
transparently.

Examples:
  ocrtrain convert scan.xml
  ocrtrain convert scan.xml.z -o scan.txt
  ocrtrain convert scan.xml --namespace ""`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output file path (default: stdout)")
	convertCmd.Flags().StringVar(&convertNamespace, "namespace", parser.DefaultNamespace, "recognition XML namespace (empty matches any)")
	convertCmd.Flags().BoolVarP(&convertVerbose, "verbose", "v", false, "verbose output")
	convertCmd.Flags().BoolVarP(&convertQuiet, "quiet", "q", false, "suppress progress messages")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	inputPath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg, convertVerbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	namespace := cfg.Namespace
	if cmd.Flags().Changed("namespace") {
		namespace = convertNamespace
	}

	doc, err := parseFile(inputPath, parser.Options{Namespace: namespace}, logger)
	if err != nil {
		return err
	}

	text := reconstruct.Text(doc)
	logger.Debug("reconstructed text",
		zap.Int("blocks", len(doc.Blocks)),
		zap.Int("chars", doc.CharCount()),
		zap.Int("bytes", len(text)))

	if convertOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	}

	if err := os.WriteFile(convertOutput, []byte(text+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if !convertQuiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "converted: %s\n", convertOutput)
	}
	return nil
}

// parseFile opens and parses a recognition file, raw or compressed.
func parseFile(path string, opts parser.Options, logger *zap.Logger) (*ir.Document, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s", path)
	}

	p, err := abbyy.Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	logger.Debug("parsing",
		zap.String("file", filepath.Base(path)),
		zap.String("namespace", opts.Namespace))

	doc, err := p.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}
