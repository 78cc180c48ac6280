package worker

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteScaffoldProducesServableSite(t *testing.T) {
	dir := t.TempDir()
	if err := WriteScaffold(dir, "acme-site"); err != nil {
		t.Fatalf("scaffold: %v", err)
	}
	index := readFile(t, filepath.Join(dir, "index.html"))
	if !strings.Contains(index, "acme-site") {
		t.Fatalf("project name missing from index: %q", index)
	}
	if !fileExists(filepath.Join(dir, "style.css")) {
		t.Fatal("stylesheet missing")
	}
	if HasManifest(dir) {
		t.Fatal("scaffold must not carry a package.json; it skips install and build")
	}
}

func TestWriteScaffoldDefaultsProjectName(t *testing.T) {
	dir := t.TempDir()
	if err := WriteScaffold(dir, ""); err != nil {
		t.Fatalf("scaffold: %v", err)
	}
	index := readFile(t, filepath.Join(dir, "index.html"))
	if !strings.Contains(index, "Sample Application") {
		t.Fatalf("default name missing: %q", index)
	}
}
