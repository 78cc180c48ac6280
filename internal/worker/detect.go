package worker

import (
	"os"
	"path/filepath"
)

// PackageManager identifies the tool that installs a project's dependencies.
type PackageManager string

const (
	PMNpm  PackageManager = "npm"
	PMYarn PackageManager = "yarn"
	PMPnpm PackageManager = "pnpm"
)

// DetectPackageManager inspects lockfiles in precedence order: a pnpm
// lockfile wins over yarn, which wins over npm; npm is the default when no
// lockfile exists.
func DetectPackageManager(dir string) PackageManager {
	switch {
	case fileExists(filepath.Join(dir, "pnpm-lock.yaml")):
		return PMPnpm
	case fileExists(filepath.Join(dir, "yarn.lock")):
		return PMYarn
	case fileExists(filepath.Join(dir, "package-lock.json")):
		return PMNpm
	default:
		return PMNpm
	}
}

// InstallCommand returns the reproducible install invocation for the manager.
func (pm PackageManager) InstallCommand(dir string) string {
	switch pm {
	case PMPnpm:
		return "corepack enable && pnpm install --frozen-lockfile"
	case PMYarn:
		return "corepack enable && yarn install --frozen-lockfile"
	default:
		if fileExists(filepath.Join(dir, "package-lock.json")) {
			return "npm ci"
		}
		return "npm install"
	}
}

// RunScript returns the manager's invocation for a package.json script.
func (pm PackageManager) RunScript(script string) string {
	switch pm {
	case PMPnpm:
		return "pnpm run " + script
	case PMYarn:
		return "yarn " + script
	default:
		return "npm run " + script
	}
}

// HasManifest reports whether the directory contains a package.json. Projects
// without one skip the install and build stages entirely.
func HasManifest(dir string) bool {
	return fileExists(filepath.Join(dir, "package.json"))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
