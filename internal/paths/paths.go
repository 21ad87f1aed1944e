// Package paths lays out the data directory: verdict caches, the message
// archive, debug output and the run lock all live under one root.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// DataDir resolves the data root: the configured directory when set,
// otherwise the platform data home.
func DataDir(configured string) string {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return trimmed
	}
	return filepath.Join(xdg.DataHome, "matsuri")
}

// CacheDir holds the per-stage verdict stores.
func CacheDir(dataDir string) string {
	return filepath.Join(dataDir, "cache")
}

// ArchivePath is the sqlite message archive.
func ArchivePath(dataDir string) string {
	return filepath.Join(dataDir, "archive.db")
}

// DebugDir holds per-run audit files.
func DebugDir(dataDir string) string {
	return filepath.Join(dataDir, "debug")
}

// SuppressDir holds the repost-suppressor embedding collection.
func SuppressDir(dataDir string) string {
	return filepath.Join(dataDir, "suppress")
}

// LockPath is the run lock guarding the data directory.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "run.lock")
}

// DigestPath is where the most recent digest is written.
func DigestPath(dataDir string) string {
	return filepath.Join(dataDir, "digest.json")
}

// EnsureDir creates dir and its parents.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
