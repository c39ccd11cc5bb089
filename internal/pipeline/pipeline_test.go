package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	_ "modernc.org/sqlite"

	"github.com/roboco-io/ocrtrain/internal/bundle"
	"github.com/roboco-io/ocrtrain/internal/dataset"
	"github.com/roboco-io/ocrtrain/internal/parser"
)

const ns = "http://www.abbyy.com/FineReader_xml/FineReader10-schema-v1.xml"

// ocrXML builds a recognition document with one block per argument and one
// line per newline-separated part.
func ocrXML(blocks ...string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><document xmlns="` + ns + `"><page>`)
	for _, b := range blocks {
		sb.WriteString(`<block blockType="Text"><text><par>`)
		for _, line := range strings.Split(b, "\n") {
			sb.WriteString(`<line><formatting lang="English">`)
			for _, r := range line {
				sb.WriteString("<charParams>")
				xmlEscape(&sb, r)
				sb.WriteString("</charParams>")
			}
			sb.WriteString(`</formatting></line>`)
		}
		sb.WriteString(`</par></text></block>`)
	}
	sb.WriteString(`</page></document>`)
	return sb.String()
}

func xmlEscape(sb *strings.Builder, r rune) {
	switch r {
	case '<':
		sb.WriteString("&lt;")
	case '&':
		sb.WriteString("&amp;")
	default:
		sb.WriteRune(r)
	}
}

type request struct {
	id       string
	ocr      string
	feedback any
}

func feedback(code string) string {
	return fmt.Sprintf(`{"_original":{"country":{"code3":%q}}}`, code)
}

func writeBundle(t *testing.T, path string, reqs ...request) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE request (request_id TEXT, ocr_xml BLOB, feedback TEXT)`)
	require.NoError(t, err)

	for _, r := range reqs {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		_, err := w.Write([]byte(r.ocr))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		_, err = db.Exec(`INSERT INTO request VALUES (?, ?, ?)`, r.id, buf.Bytes(), r.feedback)
		require.NoError(t, err)
	}
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.BundlesDir = t.TempDir()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Seed = 3
	cfg.Workers = 2
	return cfg
}

func readTSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Equal(t, "\tfeature\tlabel", lines[0])

	rows := make([][]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		rows = append(rows, strings.Split(line, "\t"))
	}
	return rows
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	writeBundle(t, filepath.Join(cfg.BundlesDir, "a.db"),
		request{id: "1", ocr: ocrXML("PASSPORT\nUTOPIA", "P<UTO"), feedback: feedback("UTO")},
		request{id: "2", ocr: ocrXML("REISEPASS"), feedback: feedback("D")},
		request{id: "3", ocr: ocrXML("NO LABEL"), feedback: `{"_original":{}}`},
		request{id: "4", ocr: ocrXML("PENDING"), feedback: nil},
	)
	writeBundle(t, filepath.Join(cfg.BundlesDir, "b.db"),
		request{id: "5", ocr: ocrXML("PASSEPORT"), feedback: feedback("FRA")},
		request{id: "6", ocr: ocrXML("PASAPORTE"), feedback: feedback("ESP")},
		request{id: "7", ocr: ocrXML("PASSPORT"), feedback: feedback("UTO")},
	)

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, 6, res.Requests)
	assert.Equal(t, 1, res.Unlabeled)
	assert.Equal(t, 0, res.Invalid)
	assert.Equal(t, 4, res.Train)
	assert.Equal(t, 1, res.Test)
	assert.Equal(t, []string{"D", "ESP", "FRA", "UTO"}, res.Vocabulary)

	rows := append(readTSV(t, res.TrainPath), readTSV(t, res.TestPath)...)
	features := make(map[string]string, len(rows))
	for _, row := range rows {
		require.Len(t, row, 3)
		features[row[0]] = row[1] + "|" + row[2]
	}
	assert.Equal(t, map[string]string{
		"0": "PASSPORTUTOPIAP<UTO|UTO",
		"1": "REISEPASS|D",
		"2": "PASSEPORT|FRA",
		"3": "PASAPORTE|ESP",
		"4": "PASSPORT|UTO",
	}, features)

	data, err := os.ReadFile(res.VocabularyPath)
	require.NoError(t, err)
	var vocab []string
	require.NoError(t, json.Unmarshal(data, &vocab))
	assert.Equal(t, res.Vocabulary, vocab)
}

func TestRun_Deterministic(t *testing.T) {
	cfg := testConfig(t)
	var reqs []request
	for i := 0; i < 20; i++ {
		reqs = append(reqs, request{
			id:       fmt.Sprint(i),
			ocr:      ocrXML(fmt.Sprintf("DOC %d", i)),
			feedback: feedback([]string{"UTO", "DEU", "AUT"}[i%3]),
		})
	}
	writeBundle(t, filepath.Join(cfg.BundlesDir, "a.db"), reqs...)

	first, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	train1, err := os.ReadFile(first.TrainPath)
	require.NoError(t, err)

	cfg.Workers = 7
	second, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	train2, err := os.ReadFile(second.TrainPath)
	require.NoError(t, err)

	assert.Equal(t, string(train1), string(train2))
	assert.Equal(t, 16, first.Train)
	assert.Equal(t, 4, first.Test)
}

func TestRun_InvalidAborts(t *testing.T) {
	cfg := testConfig(t)
	writeBundle(t, filepath.Join(cfg.BundlesDir, "a.db"),
		request{id: "ok", ocr: ocrXML("A"), feedback: feedback("UTO")},
		request{id: "bad", ocr: "<document><block>", feedback: feedback("UTO")},
	)

	_, err := Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, parser.IsParseError(err))
	assert.Contains(t, err.Error(), "bad")

	_, statErr := os.Stat(filepath.Join(cfg.OutputDir, TrainFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_SkipInvalid(t *testing.T) {
	cfg := testConfig(t)
	cfg.SkipInvalid = true
	writeBundle(t, filepath.Join(cfg.BundlesDir, "a.db"),
		request{id: "1", ocr: ocrXML("A"), feedback: feedback("UTO")},
		request{id: "bad", ocr: "<document><block>", feedback: feedback("UTO")},
		request{id: "3", ocr: ocrXML("B"), feedback: feedback("DEU")},
	)

	core, logs := observer.New(zapcore.DebugLevel)
	res, err := Run(context.Background(), cfg, zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Requests)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 2, res.Train+res.Test)

	warned := logs.FilterMessage("skipping invalid OCR document").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "bad", warned[0].ContextMap()["request"])

	assert.Equal(t, 1, logs.FilterMessage("dataset written").Len())
}

func TestRun_Dedupe(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dedupe = true
	writeBundle(t, filepath.Join(cfg.BundlesDir, "a.db"),
		request{id: "1", ocr: ocrXML("SAME"), feedback: feedback("UTO")},
		request{id: "2", ocr: ocrXML("SAME"), feedback: feedback("UTO")},
		request{id: "3", ocr: ocrXML("SAME"), feedback: feedback("DEU")},
		request{id: "4", ocr: ocrXML("OTHER"), feedback: feedback("UTO")},
	)

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 3, res.Train+res.Test)
}

func TestRun_CustomLabelPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.LabelPath = "document.type"
	writeBundle(t, filepath.Join(cfg.BundlesDir, "a.db"),
		request{id: "1", ocr: ocrXML("A"), feedback: `{"document":{"type":"passport"}}`},
		request{id: "2", ocr: ocrXML("B"), feedback: `{"document":{"type":"id"}}`},
	)

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "passport"}, res.Vocabulary)
}

func TestRun_TooFewExamples(t *testing.T) {
	cfg := testConfig(t)
	writeBundle(t, filepath.Join(cfg.BundlesDir, "a.db"),
		request{id: "1", ocr: ocrXML("A"), feedback: feedback("UTO")},
	)

	_, err := Run(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, dataset.ErrTooFewExamples))
}

func TestRun_NoBundles(t *testing.T) {
	cfg := testConfig(t)
	_, err := Run(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, bundle.ErrNoBundles))
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.TestRatio = 1
	_, err := Run(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.BundlesDir = ""
	_, err = Run(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestRun_MetricsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsFile = filepath.Join(t.TempDir(), "ocrtrain.prom")
	writeBundle(t, filepath.Join(cfg.BundlesDir, "a.db"),
		request{id: "1", ocr: ocrXML("A"), feedback: feedback("UTO")},
		request{id: "2", ocr: ocrXML("B"), feedback: feedback("DEU")},
		request{id: "3", ocr: ocrXML("C"), feedback: `{}`},
	)

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.MetricsFile, res.MetricsPath)

	data, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `ocrtrain_pipeline_request_ops_total{outcome="converted"} 2`)
	assert.Contains(t, text, `ocrtrain_pipeline_request_ops_total{outcome="unlabeled"} 1`)
	assert.Contains(t, text, `ocrtrain_pipeline_examples{split="test"} 1`)
	assert.Contains(t, text, `ocrtrain_pipeline_labels 2`)
	assert.Contains(t, text, `ocrtrain_pipeline_convert_duration_seconds_count 2`)
}

func TestRun_Canceled(t *testing.T) {
	cfg := testConfig(t)
	writeBundle(t, filepath.Join(cfg.BundlesDir, "a.db"),
		request{id: "1", ocr: ocrXML("A"), feedback: feedback("UTO")},
		request{id: "2", ocr: ocrXML("B"), feedback: feedback("DEU")},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, cfg, nil)
	assert.Error(t, err)
}

func TestRun_DeclaredEncodingIgnored(t *testing.T) {
	cfg := testConfig(t)
	latin := strings.Replace(ocrXML("ÉTAT"), `encoding="UTF-8"`, `encoding="windows-1252"`, 1)
	writeBundle(t, filepath.Join(cfg.BundlesDir, "a.db"),
		request{id: "1", ocr: latin, feedback: feedback("FRA")},
		request{id: "2", ocr: "\xEF\xBB\xBF" + ocrXML("BOM"), feedback: feedback("UTO")},
	)

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	rows := append(readTSV(t, res.TrainPath), readTSV(t, res.TestPath)...)
	features := make(map[string]string, len(rows))
	for _, row := range rows {
		features[row[0]] = row[1]
	}
	assert.Equal(t, map[string]string{"0": "ÉTAT", "1": "BOM"}, features)
}
