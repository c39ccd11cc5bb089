package bundle

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	id       string
	ocr      []byte
	feedback any
}

func deflate(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeBundle(t *testing.T, path string, rows ...row) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE request (request_id TEXT, ocr_xml BLOB, feedback TEXT)`)
	require.NoError(t, err)
	for _, r := range rows {
		_, err = db.Exec(`INSERT INTO request (request_id, ocr_xml, feedback) VALUES (?, ?, ?)`, r.id, r.ocr, r.feedback)
		require.NoError(t, err)
	}
}

func collect(t *testing.T, a *Accessor) []Request {
	t.Helper()
	var got []Request
	err := a.Requests(context.Background(), func(r Request) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.db")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = Open(file, nil)
	assert.Error(t, err)
}

func TestFiles_Sorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.db", "a.db", "notes.txt", "c.db"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	a, err := Open(dir, nil)
	require.NoError(t, err)

	files, err := a.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.db"),
		filepath.Join(dir, "b.db"),
		filepath.Join(dir, "c.db"),
	}, files)
}

func TestRequests_NoBundles(t *testing.T) {
	a, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	err = a.Requests(context.Background(), func(Request) error { return nil })
	assert.True(t, errors.Is(err, ErrNoBundles))
}

func TestRequests_ReadsLabeledRows(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, filepath.Join(dir, "2.db"),
		row{id: "r3", ocr: deflate(t, "<document/>"), feedback: `{"x":3}`},
	)
	writeBundle(t, filepath.Join(dir, "1.db"),
		row{id: "r1", ocr: deflate(t, "<document>1</document>"), feedback: `{"x":1}`},
		row{id: "r2", ocr: deflate(t, "<document/>"), feedback: nil},
	)

	a, err := Open(dir, nil)
	require.NoError(t, err)

	got := collect(t, a)
	require.Len(t, got, 2)

	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, filepath.Join(dir, "1.db"), got[0].Bundle)
	assert.Equal(t, "<document>1</document>", string(got[0].OCR))
	assert.JSONEq(t, `{"x":1}`, string(got[0].Feedback))

	assert.Equal(t, "r3", got[1].ID)
	assert.Equal(t, filepath.Join(dir, "2.db"), got[1].Bundle)
}

func TestRequests_DropsInvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, filepath.Join(dir, "a.db"),
		row{id: "r1", ocr: deflate(t, "<d>A\xffB</d>"), feedback: `{}`},
	)

	a, err := Open(dir, nil)
	require.NoError(t, err)

	got := collect(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, "<d>AB</d>", string(got[0].OCR))
}

func TestRequests_CorruptBlob(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, filepath.Join(dir, "a.db"),
		row{id: "broken", ocr: []byte("not zlib"), feedback: `{}`},
	)

	a, err := Open(dir, nil)
	require.NoError(t, err)

	err = a.Requests(context.Background(), func(Request) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "a.db")
}

func TestRequests_CallbackErrorStops(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, filepath.Join(dir, "a.db"),
		row{id: "r1", ocr: deflate(t, "<d/>"), feedback: `{}`},
		row{id: "r2", ocr: deflate(t, "<d/>"), feedback: `{}`},
	)

	a, err := Open(dir, nil)
	require.NoError(t, err)

	stop := errors.New("stop")
	calls := 0
	err = a.Requests(context.Background(), func(Request) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestRequests_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, filepath.Join(dir, "a.db"),
		row{id: "r1", ocr: deflate(t, "<d/>"), feedback: `{}`},
	)

	a, err := Open(dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = a.Requests(ctx, func(Request) error { return nil })
	assert.Error(t, err)
}
