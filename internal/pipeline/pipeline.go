// Package pipeline builds a text classification dataset from OCR bundles.
//
// Every labeled request of every bundle database is reconstructed to plain
// text, cleaned, optionally deduplicated and split into train and test sets.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roboco-io/ocrtrain/internal/bundle"
	"github.com/roboco-io/ocrtrain/internal/dataset"
	"github.com/roboco-io/ocrtrain/internal/label"
	"github.com/roboco-io/ocrtrain/internal/parser"
	"github.com/roboco-io/ocrtrain/internal/reconstruct"
)

// Output file names.
const (
	TrainFile      = "train.tsv"
	TestFile       = "test.tsv"
	VocabularyFile = "countries.json"
)

// Config configures a pipeline run.
type Config struct {
	BundlesDir  string
	OutputDir   string
	TestRatio   float64
	Seed        uint64
	Workers     int    // conversion goroutines; <= 0 means GOMAXPROCS
	LabelPath   string // gjson path of the label in the feedback record
	Namespace   string // recognition namespace; empty matches any
	SkipInvalid bool   // skip malformed OCR documents instead of failing
	Dedupe      bool
	MetricsFile string // optional node exporter textfile
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		BundlesDir: "bundles",
		OutputDir:  ".",
		TestRatio:  0.2,
		LabelPath:  label.DefaultPath,
		Namespace:  parser.DefaultNamespace,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BundlesDir == "" {
		return fmt.Errorf("bundles directory is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if !(c.TestRatio > 0 && c.TestRatio < 1) {
		return fmt.Errorf("test ratio must be between 0 and 1, got %v", c.TestRatio)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Result summarizes a run.
type Result struct {
	Requests   int // requests with feedback
	Unlabeled  int // feedback without a usable label
	Invalid    int // malformed OCR documents skipped
	Duplicates int
	Train      int
	Test       int

	Vocabulary []string

	TrainPath      string
	TestPath       string
	VocabularyPath string
	MetricsPath    string

	Duration time.Duration
}

// slot receives the outcome of one conversion. Only the worker that owns
// the slot writes to it.
type slot struct {
	bundle  string
	id      string
	label   string
	feature string
	err     error
}

// Run executes the pipeline.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	m := newMetrics()

	accessor, err := bundle.Open(cfg.BundlesDir, logger)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	slots, err := convert(ctx, cfg, accessor, m, res, logger)
	if err != nil {
		return nil, err
	}

	examples := make([]dataset.Example, 0, len(slots))
	for _, s := range slots {
		if s.err != nil {
			res.Invalid++
			logger.Warn("skipping invalid OCR document",
				zap.String("bundle", s.bundle),
				zap.String("request", s.id),
				zap.Error(s.err))
			continue
		}
		examples = append(examples, dataset.Example{
			Index:   len(examples),
			Feature: s.feature,
			Label:   s.label,
		})
	}

	if cfg.Dedupe {
		examples, res.Duplicates = dataset.Dedupe(examples)
	}

	train, test, err := dataset.Split(examples, cfg.TestRatio, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to split dataset: %w", err)
	}
	res.Train = len(train)
	res.Test = len(test)
	res.Vocabulary = dataset.Vocabulary(examples)

	if err := writeOutputs(cfg.OutputDir, train, test, res); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)

	if cfg.MetricsFile != "" {
		m.recordResult(res, time.Now())
		if err := m.writeTextfile(cfg.MetricsFile); err != nil {
			return nil, err
		}
		res.MetricsPath = cfg.MetricsFile
	}

	logger.Info("dataset written",
		zap.Int("requests", res.Requests),
		zap.Int("unlabeled", res.Unlabeled),
		zap.Int("invalid", res.Invalid),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("train", res.Train),
		zap.Int("test", res.Test),
		zap.Int("labels", len(res.Vocabulary)),
		zap.Duration("duration", res.Duration))

	return res, nil
}

// convert reads every request and reconstructs the labeled ones on a bounded
// pool of goroutines. The returned slots are in request order.
func convert(ctx context.Context, cfg Config, accessor *bundle.Accessor, m *metrics, res *Result, logger *zap.Logger) ([]*slot, error) {
	// Bundle documents arrive decoded as UTF-8.
	opts := parser.Options{Namespace: cfg.Namespace, Decoded: true}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())

	var slots []*slot
	iterErr := accessor.Requests(gctx, func(req bundle.Request) error {
		res.Requests++

		lbl, ok := label.Extract(req.Feedback, cfg.LabelPath)
		if !ok {
			res.Unlabeled++
			logger.Debug("request has no label",
				zap.String("bundle", req.Bundle),
				zap.String("request", req.ID))
			return nil
		}

		s := &slot{bundle: req.Bundle, id: req.ID, label: lbl}
		slots = append(slots, s)

		g.Go(func() error {
			started := time.Now()
			text, err := reconstruct.Convert(bytes.NewReader(req.OCR), opts)
			m.observeConvert(time.Since(started))
			if err != nil {
				if cfg.SkipInvalid && parser.IsParseError(err) {
					s.err = err
					return nil
				}
				return fmt.Errorf("failed to convert request %s in %s: %w", req.ID, req.Bundle, err)
			}
			s.feature = dataset.Clean(text)
			return nil
		})
		return nil
	})

	// A worker failure cancels gctx, which also ends the iteration; report
	// the worker's error in that case.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return slots, nil
}

func writeOutputs(dir string, train, test []dataset.Example, res *Result) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	res.TrainPath = filepath.Join(dir, TrainFile)
	res.TestPath = filepath.Join(dir, TestFile)
	res.VocabularyPath = filepath.Join(dir, VocabularyFile)

	if err := writeFile(res.TrainPath, func(f *os.File) error { return dataset.WriteTSV(f, train) }); err != nil {
		return err
	}
	if err := writeFile(res.TestPath, func(f *os.File) error { return dataset.WriteTSV(f, test) }); err != nil {
		return err
	}
	return writeFile(res.VocabularyPath, func(f *os.File) error {
		return dataset.WriteVocabulary(f, res.Vocabulary)
	})
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
