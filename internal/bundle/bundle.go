// Package bundle reads archived scan requests from SQLite bundle databases.
//
// A bundle directory holds any number of *.db files. Each database has a
// request table whose ocr_xml column stores a zlib-compressed FineReader XML
// document and whose feedback column stores the human-verified JSON record.
package bundle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/roboco-io/ocrtrain/internal/parser"
)

// ErrNoBundles is returned when a bundle directory holds no databases.
var ErrNoBundles = errors.New("no bundle databases found")

const requestQuery = `
	SELECT request_id, ocr_xml, feedback
	FROM request
	WHERE feedback IS NOT NULL
`

// Request is one labeled scan request.
type Request struct {
	Bundle   string // database file the request was read from
	ID       string
	OCR      []byte // inflated OCR XML, valid UTF-8
	Feedback []byte // raw feedback JSON
}

// Accessor iterates the databases of one bundle directory.
type Accessor struct {
	dir    string
	logger *zap.Logger
}

// Open creates an accessor for dir. The directory must exist.
func Open(dir string, logger *zap.Logger) (*Accessor, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bundle path is not a directory: %s", dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accessor{dir: dir, logger: logger}, nil
}

// Dir returns the bundle directory.
func (a *Accessor) Dir() string {
	return a.dir
}

// Files returns the bundle databases in sorted order.
func (a *Accessor) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(a.dir, "*.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to list bundle databases: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Requests calls fn for every request with feedback, database by database.
// Iteration stops at the first error returned by fn.
func (a *Accessor) Requests(ctx context.Context, fn func(Request) error) error {
	files, err := a.Files()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w in %s", ErrNoBundles, a.dir)
	}

	for _, file := range files {
		if err := a.readFile(ctx, file, fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accessor) readFile(ctx context.Context, file string, fn func(Request) error) error {
	a.logger.Debug("reading bundle", zap.String("file", file))

	db, err := sql.Open("sqlite", file+"?_pragma=query_only(1)")
	if err != nil {
		return fmt.Errorf("failed to open bundle %s: %w", file, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, requestQuery)
	if err != nil {
		return fmt.Errorf("failed to query bundle %s: %w", file, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			id       sql.NullString
			ocr      []byte
			feedback []byte
		)
		if err := rows.Scan(&id, &ocr, &feedback); err != nil {
			return fmt.Errorf("failed to scan request in %s: %w", file, err)
		}
		if feedback == nil {
			continue
		}

		xmlData, err := parser.Inflate(ocr)
		if err != nil {
			return fmt.Errorf("failed to read OCR of request %s in %s: %w", id.String, file, err)
		}

		req := Request{
			Bundle:   file,
			ID:       id.String,
			OCR:      []byte(strings.ToValidUTF8(string(xmlData), "")),
			Feedback: feedback,
		}
		if err := fn(req); err != nil {
			return err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate bundle %s: %w", file, err)
	}

	a.logger.Debug("bundle done", zap.String("file", file), zap.Int("requests", n))
	return nil
}
