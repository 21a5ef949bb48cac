// Package walker enumerates workspace files within configurable bounds:
// depth, breadth per directory, file size, and binary filtering.
package walker

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/forgeworks/forge/internal/infra"
)

// Config bounds a walk.
type Config struct {
	// Cwd is the directory to walk.
	Cwd string
	// MaxDepth limits directory nesting below Cwd; 0 means unlimited.
	MaxDepth int
	// MaxBreadth limits entries taken per directory; 0 means unlimited.
	MaxBreadth int
	// MaxFileSize excludes files larger than this many bytes; 0 means
	// unlimited.
	MaxFileSize int64
	// SkipBinary excludes files whose extension marks them as binary.
	SkipBinary bool
	// Pattern optionally filters results by doublestar glob, matched
	// against the path relative to Cwd.
	Pattern string
}

// WalkedFile is one enumerated file.
type WalkedFile struct {
	Path     string
	FileName string
	Size     int64
}

var skippedDirs = map[string]struct{}{
	".git": {}, "node_modules": {}, "target": {}, "vendor": {},
	".idea": {}, ".vscode": {}, "dist": {}, "build": {},
}

// Walk enumerates files under cfg.Cwd respecting every bound.
func Walk(cfg Config) ([]WalkedFile, error) {
	root := cfg.Cwd
	if root == "" {
		root = "."
	}

	var files []WalkedFile
	breadth := map[string]int{}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped, not fatal
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1

		if entry.IsDir() {
			if _, skip := skippedDirs[entry.Name()]; skip {
				return filepath.SkipDir
			}
			if cfg.MaxDepth > 0 && depth >= cfg.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		dir := filepath.Dir(path)
		if cfg.MaxBreadth > 0 {
			if breadth[dir] >= cfg.MaxBreadth {
				return nil
			}
			breadth[dir]++
		}

		if cfg.SkipBinary && infra.IsBinary(path) {
			return nil
		}
		if cfg.Pattern != "" {
			matched, matchErr := doublestar.Match(cfg.Pattern, filepath.ToSlash(rel))
			if matchErr != nil || !matched {
				return nil
			}
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil
		}
		if cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
			return nil
		}

		files = append(files, WalkedFile{
			Path:     path,
			FileName: entry.Name(),
			Size:     info.Size(),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return files, nil
}
