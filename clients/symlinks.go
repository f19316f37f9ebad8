package clients

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"loomctl/core/log"
)

// SymlinkCleaner removes the versioned CLI symlinks a loom installs into the
// bin dir, named "<tool>-<identifier>" and pointing into the loom's worktree.
type SymlinkCleaner struct {
	binDir string
}

func NewSymlinkCleaner(binDir string) *SymlinkCleaner {
	return &SymlinkCleaner{binDir: binDir}
}

// pointsInto reports whether the symlink at path targets worktreePath or a
// file below it. The target need not exist any more.
func pointsInto(path, worktreePath string) bool {
	target, err := os.Readlink(path)
	if err != nil {
		return false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	rel, err := filepath.Rel(filepath.Clean(worktreePath), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// RemoveForIdentifier removes every "<tool>-<identifier>" symlink that points
// into worktreePath and returns the paths removed, or that would be removed
// in dry-run. Links with a matching name that belong to another loom are kept.
func (s *SymlinkCleaner) RemoveForIdentifier(identifier, worktreePath string, dryRun bool) ([]string, error) {
	if s.binDir == "" || identifier == "" || worktreePath == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(s.binDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bin dir %s: %w", s.binDir, err)
	}

	// Slashes in branch identifiers cannot appear in file names
	suffix := "-" + strings.ReplaceAll(identifier, "/", "-")

	var removed []string
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 || !strings.HasSuffix(entry.Name(), suffix) || entry.Name() == suffix {
			continue
		}

		path := filepath.Join(s.binDir, entry.Name())
		if !pointsInto(path, worktreePath) {
			log.Debug("ℹ️ Keeping %s, it does not point into %s", path, worktreePath)
			continue
		}

		if !dryRun {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("failed to remove symlink %s: %w", path, err)
			}
			log.Info("✅ Removed CLI symlink %s", path)
		}
		removed = append(removed, path)
	}

	return removed, nil
}
