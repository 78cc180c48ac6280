package worker

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDetectPackageManagerPrecedence(t *testing.T) {
	t.Run("pnpm wins over yarn and npm", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "pnpm-lock.yaml")
		touch(t, dir, "yarn.lock")
		touch(t, dir, "package-lock.json")
		if pm := DetectPackageManager(dir); pm != PMPnpm {
			t.Fatalf("got %s, want pnpm", pm)
		}
	})
	t.Run("yarn wins over npm", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "yarn.lock")
		touch(t, dir, "package-lock.json")
		if pm := DetectPackageManager(dir); pm != PMYarn {
			t.Fatalf("got %s, want yarn", pm)
		}
	})
	t.Run("npm lockfile", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "package-lock.json")
		if pm := DetectPackageManager(dir); pm != PMNpm {
			t.Fatalf("got %s, want npm", pm)
		}
	})
	t.Run("npm is the default", func(t *testing.T) {
		if pm := DetectPackageManager(t.TempDir()); pm != PMNpm {
			t.Fatalf("got %s, want npm", pm)
		}
	})
}

func TestInstallCommandMatchesLockfile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "package-lock.json")
	if cmd := PMNpm.InstallCommand(dir); cmd != "npm ci" {
		t.Fatalf("with lockfile: got %q, want npm ci", cmd)
	}
	if cmd := PMNpm.InstallCommand(t.TempDir()); cmd != "npm install" {
		t.Fatalf("without lockfile: got %q, want npm install", cmd)
	}
}

func TestHasManifest(t *testing.T) {
	dir := t.TempDir()
	if HasManifest(dir) {
		t.Fatal("empty dir must not report a manifest")
	}
	touch(t, dir, "package.json")
	if !HasManifest(dir) {
		t.Fatal("expected manifest to be detected")
	}
}
