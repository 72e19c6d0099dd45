package artifact

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONL(t *testing.T) {
	w := NewWriter(t.TempDir())

	records := []any{
		map[string]string{"scenario": "scn-1", "verdict": "approve"},
		map[string]string{"scenario": "scn-2", "verdict": "manual"},
	}
	path, err := w.WriteJSONL("sub-1", "judge_report", records)
	if err != nil {
		t.Fatalf("WriteJSONL failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer func() { _ = f.Close() }()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]string
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestWriteJSON(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	path, err := w.WriteJSON("sub-1", "summary", map[string]int{"trust_score": 72})
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(root, "sub-1") {
		t.Fatalf("unexpected artifact location: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var doc map[string]int
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if doc["trust_score"] != 72 {
		t.Fatalf("unexpected content: %v", doc)
	}
}

func TestDisabledWriterIsNoOp(t *testing.T) {
	w := NewWriter("")
	if w.Enabled() {
		t.Fatal("expected disabled writer")
	}

	path, err := w.WriteJSON("sub-1", "summary", map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if path != "" {
		t.Fatalf("expected empty path, got %s", path)
	}
}
