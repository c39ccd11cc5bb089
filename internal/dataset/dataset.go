// Package dataset turns labeled texts into train and test files.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrTooFewExamples is returned when a split would leave one side empty.
var ErrTooFewExamples = errors.New("too few examples to split")

// Example is one labeled text. Index is the position of the example in
// extraction order and survives the split.
type Example struct {
	Index   int
	Feature string
	Label   string
}

var cleaner = strings.NewReplacer("\n", "", "\t", "")

// Clean removes line breaks and tabs so the text fits one TSV field.
func Clean(text string) string {
	return cleaner.Replace(text)
}

// Split shuffles examples with a generator seeded by seed and splits them
// into train and test sets. The test set holds ceil(testRatio*n) examples.
func Split(examples []Example, testRatio float64, seed uint64) (train, test []Example, err error) {
	if !(testRatio > 0 && testRatio < 1) {
		return nil, nil, fmt.Errorf("test ratio must be between 0 and 1, got %v", testRatio)
	}

	n := len(examples)
	nTest := int(math.Ceil(testRatio * float64(n)))
	nTrain := n - nTest
	if nTest == 0 || nTrain == 0 {
		return nil, nil, fmt.Errorf("%w: %d examples at test ratio %v", ErrTooFewExamples, n, testRatio)
	}

	shuffled := make([]Example, n)
	copy(shuffled, examples)
	rng := rand.New(rand.NewPCG(seed, seed))
	rng.Shuffle(n, func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return shuffled[nTest:], shuffled[:nTest], nil
}

// Vocabulary returns the distinct labels of examples in sorted order.
func Vocabulary(examples []Example) []string {
	seen := make(map[string]struct{}, len(examples))
	labels := make([]string, 0)
	for _, e := range examples {
		if _, ok := seen[e.Label]; ok {
			continue
		}
		seen[e.Label] = struct{}{}
		labels = append(labels, e.Label)
	}
	sort.Strings(labels)
	return labels
}

// Dedupe drops examples whose feature and label both repeat an earlier
// example. It returns the kept examples and the number dropped.
func Dedupe(examples []Example) ([]Example, int) {
	seen := make(map[uint64][]int, len(examples))
	kept := make([]Example, 0, len(examples))
	dropped := 0

	for _, e := range examples {
		key := exampleKey(e)
		if containsExample(kept, seen[key], e) {
			dropped++
			continue
		}
		seen[key] = append(seen[key], len(kept))
		kept = append(kept, e)
	}
	return kept, dropped
}

func exampleKey(e Example) uint64 {
	d := xxhash.New()
	d.WriteString(e.Feature)
	d.Write([]byte{0})
	d.WriteString(e.Label)
	return d.Sum64()
}

func containsExample(kept []Example, candidates []int, e Example) bool {
	for _, i := range candidates {
		if kept[i].Feature == e.Feature && kept[i].Label == e.Label {
			return true
		}
	}
	return false
}

// WriteTSV writes examples as a tab-separated table with an unnamed index
// column followed by feature and label columns.
func WriteTSV(w io.Writer, examples []Example) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	if err := cw.Write([]string{"", "feature", "label"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, e := range examples {
		if err := cw.Write([]string{strconv.Itoa(e.Index), e.Feature, e.Label}); err != nil {
			return fmt.Errorf("failed to write example %d: %w", e.Index, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write examples: %w", err)
	}
	return nil
}

// WriteVocabulary writes labels as a JSON array.
func WriteVocabulary(w io.Writer, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	if err := json.NewEncoder(w).Encode(labels); err != nil {
		return fmt.Errorf("failed to write vocabulary: %w", err)
	}
	return nil
}
