package recorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// SchemaVersion bumps are breaking (spec §6.2), matching mm_core/schema.py's
// SCHEMA_VERSION.
const SchemaVersion = 3

// FileEntry describes one logical output file in schema.json.
type FileEntry struct {
	Path        string   `json:"path"`
	Format      string   `json:"format"`
	Compression string   `json:"compression,omitempty"`
	Columns     []string `json:"columns,omitempty"`
	Fields      []string `json:"fields,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Depth       int      `json:"depth,omitempty"`
}

type schemaDoc struct {
	SchemaVersion int                  `json:"schema_version"`
	CreatedUTC    string               `json:"created_utc"`
	Files         map[string]FileEntry `json:"files"`
}

// WriteSchema writes schema.json describing every output file's format,
// matching mm_core/schema.py's write_schema.
func WriteSchema(path string, files map[string]FileEntry) error {
	doc := schemaDoc{
		SchemaVersion: SchemaVersion,
		CreatedUTC:    time.Now().UTC().Format(time.RFC3339),
		Files:         files,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
