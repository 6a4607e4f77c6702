package relay

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"
)

// TailState tracks how many lines of a growing file have already been
// relayed, matching tailer.py's TailState dataclass.
type TailState struct {
	LineIndex int
}

func readLines(path string, gz bool) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r *bufio.Scanner
	if gz {
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil // mid-write/truncated file, matching tail_ndjson's EOFError->[] fallback
		}
		defer gzr.Close()
		r = bufio.NewScanner(gzr)
	} else {
		r = bufio.NewScanner(f)
	}
	r.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for r.Scan() {
		lines = append(lines, r.Text())
	}
	return lines, nil
}

// CountGzipLines matches tailer.py's count_gzip_lines (used to seed
// TailState.LineIndex at the end of file when a client starts in "tail"
// mode, so it only receives new lines going forward).
func CountGzipLines(path string) int {
	lines, _ := readLines(path, true)
	return len(lines)
}

// CountTextLines matches tailer.py's count_text_lines.
func CountTextLines(path string) int {
	lines, _ := readLines(path, false)
	return len(lines)
}

func tailLines(path string, gz bool, state *TailState) []map[string]interface{} {
	lines, _ := readLines(path, gz)
	if !gz && len(lines) < state.LineIndex {
		state.LineIndex = 0 // rotated/truncated, matching tail_text_ndjson
	}
	if state.LineIndex >= len(lines) {
		return nil
	}
	newLines := lines[state.LineIndex:]
	state.LineIndex = len(lines)

	payloads := make([]map[string]interface{}, 0, len(newLines))
	for _, line := range newLines {
		if line == "" {
			continue
		}
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(line), &payload); err == nil {
			payloads = append(payloads, payload)
		}
	}
	return payloads
}

// TailNDJSON reads newly-appended lines of a gzip NDJSON file, matching
// tail_ndjson.
func TailNDJSON(path string, state *TailState) []map[string]interface{} {
	return tailLines(path, true, state)
}

// TailTextNDJSON reads newly-appended lines of a plain-text NDJSON file,
// matching tail_text_ndjson (used for the append-only live/ files).
func TailTextNDJSON(path string, state *TailState) []map[string]interface{} {
	return tailLines(path, false, state)
}

// TailCSV reads newly-appended rows of a gzip CSV file as header-keyed
// maps, matching tail_csv.
func TailCSV(path string, state *TailState) []map[string]string {
	lines, _ := readLines(path, true)
	if len(lines) == 0 {
		return nil
	}
	header := strings.Split(lines[0], ",")
	start := state.LineIndex
	if start == 0 {
		start = 1
	}
	if start >= len(lines) {
		return nil
	}
	newLines := lines[start:]
	state.LineIndex = len(lines)

	cr := csv.NewReader(strings.NewReader(strings.Join(newLines, "\n")))
	rows, err := cr.ReadAll()
	if err != nil {
		return nil
	}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				m[h] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}
