package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roboco-io/ocrtrain/internal/ir"
	"github.com/roboco-io/ocrtrain/internal/parser"
	"github.com/roboco-io/ocrtrain/internal/reconstruct"
)

var (
	extractOutput      string
	extractFormat      string
	extractNamespace   string
	extractPrettyPrint bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Dump the recognition tree of a FineReader XML file",
	Long: `Parse a FineReader XML recognition result and print its block, paragraph,
line and character structure.

Output is JSON or a text summary with one entry per block.

Examples:
  ocrtrain extract scan.xml
  ocrtrain extract scan.xml -o tree.json
  ocrtrain extract scan.xml.z --format text`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "output file path (default: stdout)")
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", "json", "output format (json, text)")
	extractCmd.Flags().StringVar(&extractNamespace, "namespace", parser.DefaultNamespace, "recognition XML namespace (empty matches any)")
	extractCmd.Flags().BoolVar(&extractPrettyPrint, "pretty", true, "indent JSON output")

	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	namespace := cfg.Namespace
	if cmd.Flags().Changed("namespace") {
		namespace = extractNamespace
	}

	doc, err := parseFile(args[0], parser.Options{Namespace: namespace}, logger)
	if err != nil {
		return err
	}

	output, err := formatOutput(doc, extractFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if extractOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), output)
		return nil
	}
	if err := os.WriteFile(extractOutput, []byte(output), 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "extracted: %s\n", extractOutput)
	return nil
}

func formatOutput(doc *ir.Document, format string) (string, error) {
	switch format {
	case "json":
		var data []byte
		var err error
		if extractPrettyPrint {
			data, err = json.MarshalIndent(doc, "", "  ")
		} else {
			data, err = json.Marshal(doc)
		}
		if err != nil {
			return "", err
		}
		return string(data), nil

	case "text":
		return formatAsText(doc), nil

	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// formatAsText summarizes each block and previews its normalized text.
func formatAsText(doc *ir.Document) string {
	var sb strings.Builder

	if doc.Producer != "" {
		fmt.Fprintf(&sb, "producer: %s\n", doc.Producer)
	}
	if doc.Version != "" {
		fmt.Fprintf(&sb, "version: %s\n", doc.Version)
	}
	fmt.Fprintf(&sb, "blocks: %d, chars: %d\n", len(doc.Blocks), doc.CharCount())

	for i := range doc.Blocks {
		b := &doc.Blocks[i]
		lines, chars := blockStats(b)
		blockType := string(b.Type)
		if blockType == "" {
			blockType = "-"
		}
		fmt.Fprintf(&sb, "\n[%d] %s paragraphs=%d lines=%d chars=%d\n",
			i, blockType, len(b.Paragraphs), lines, chars)

		text, ok := reconstruct.Block(b)
		if !ok {
			sb.WriteString("  (empty)\n")
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
			sb.WriteString("  | " + line + "\n")
		}
	}
	return sb.String()
}

func blockStats(b *ir.Block) (lines, chars int) {
	for _, p := range b.Paragraphs {
		lines += len(p.Lines)
		for _, l := range p.Lines {
			for _, r := range l.Runs {
				chars += len(r.Chars)
			}
		}
	}
	return lines, chars
}
