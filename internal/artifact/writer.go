// Package artifact persists per-submission evaluation reports to disk:
// a JSONL record stream per stage plus a JSON summary document.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Writer lays out artifacts under root/<submissionID>/.
type Writer struct {
	root string
}

// NewWriter creates an artifact writer rooted at dir. An empty dir disables
// artifact output: every write succeeds and returns an empty path.
func NewWriter(dir string) *Writer {
	return &Writer{root: dir}
}

// Enabled reports whether artifacts are written at all.
func (w *Writer) Enabled() bool {
	return w.root != ""
}

// WriteJSONL writes one JSON object per line and returns the file path.
func (w *Writer) WriteJSONL(submissionID, name string, records []any) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	path, err := w.prepare(submissionID, name+".jsonl")
	if err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return "", fmt.Errorf("write artifact %s: %w", path, err)
		}
	}
	return path, nil
}

// WriteJSON writes a single indented JSON document and returns the file path.
func (w *Writer) WriteJSON(submissionID, name string, doc any) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	path, err := w.prepare(submissionID, name+".json")
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", path, err)
	}
	return path, nil
}

func (w *Writer) prepare(submissionID, filename string) (string, error) {
	dir := filepath.Join(w.root, submissionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir %s: %w", dir, err)
	}
	return filepath.Join(dir, filename), nil
}
