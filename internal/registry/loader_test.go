package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDirFiltersModelFiles(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"graph-a.yaml",
		"graph-b.YML", // case-insensitive
		"notes.txt",
		"model.bin",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	for _, m := range models {
		if m.ID == "" || !filepath.IsAbs(m.Path) {
			t.Fatalf("bad model entry: %+v", m)
		}
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
