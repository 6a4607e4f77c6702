package recorder

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestGzipCSVWriterHeaderAndFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.csv.gz")
	w, err := NewGzipCSVWriter(path, []string{"a", "b"}, 2, time.Hour)
	require.NoError(t, err)

	require.NoError(t, w.WriteRow([]interface{}{1, "x"}))
	require.NoError(t, w.WriteRow([]interface{}{2, "y"})) // triggers flush at 2 rows
	require.NoError(t, w.Close())

	content := readGzip(t, path)
	assert.Contains(t, content, "a,b")
	assert.Contains(t, content, "1,x")
	assert.Contains(t, content, "2,y")
}

func TestGzipCSVWriterDoesNotDuplicateHeaderOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.csv.gz")
	w, err := NewGzipCSVWriter(path, []string{"h"}, 1, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow([]interface{}{"row1"}))
	require.NoError(t, w.Close())

	w2, err := NewGzipCSVWriter(path, []string{"h"}, 1, 0)
	require.NoError(t, err)
	require.NoError(t, w2.WriteRow([]interface{}{"row2"}))
	require.NoError(t, w2.Close())

	content := readGzip(t, path)
	assert.Equal(t, 1, countOccurrences(content, "h\n"))
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
			i += len(substr) - 1
		}
	}
	return count
}

func TestLiveNdjsonWriterRotatesAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.ndjson")
	w, err := NewLiveNdjsonWriter(path, 10*time.Millisecond, time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteLine(`{"a":1}`))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.WriteLine(`{"a":2}`)) // should rotate before writing

	// The live file holds only the post-rotation line.
	live, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":2}\n", string(live))

	// The rotated file is ~20ms old, past the 1ms retention, so it is pruned.
	rotated, err := sortedRotatedFiles(dir, "live.ndjson")
	require.NoError(t, err)
	assert.Empty(t, rotated)
}
