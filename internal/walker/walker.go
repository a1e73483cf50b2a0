package walker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// FileInfo represents a local file
type FileInfo struct {
	Path    string // Absolute path
	RelPath string // Slash-separated path relative to the walk root
	Size    int64
	ModTime time.Time
}

// Excludes matches slash-separated relative paths against doublestar
// patterns. A pattern ending in "/" excludes a directory and everything
// below it.
type Excludes []string

// Validate reports the first malformed pattern.
func (e Excludes) Validate() error {
	for _, pattern := range e {
		if !doublestar.ValidatePattern(strings.TrimSuffix(pattern, "/")) {
			return fmt.Errorf("invalid exclude pattern: %q", pattern)
		}
	}
	return nil
}

// Match reports whether path is excluded.
func (e Excludes) Match(path string) bool {
	for _, pattern := range e {
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			// Any parent directory may match
			parts := strings.Split(path, "/")
			for i := 1; i < len(parts); i++ {
				if matched, _ := doublestar.Match(dirPattern, strings.Join(parts[:i], "/")); matched {
					return true
				}
			}
			continue
		}
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
	}
	return false
}

// Walker walks local files with exclude pattern support
type Walker struct {
	root     string
	isFile   bool
	excludes Excludes
}

// NewWalker creates a walker over root, which may be a directory or a
// single regular file.
func NewWalker(root string, excludes []string) (*Walker, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file or directory: %s", absRoot)
	}

	ex := Excludes(excludes)
	if err := ex.Validate(); err != nil {
		return nil, err
	}

	return &Walker{
		root:     absRoot,
		isFile:   !info.IsDir(),
		excludes: ex,
	}, nil
}

// Root returns the absolute walk root.
func (w *Walker) Root() string {
	return w.root
}

// IsFile reports whether the root is a single file.
func (w *Walker) IsFile() bool {
	return w.isFile
}

// Walk walks the file tree and returns matching files in lexical order. A
// single-file root yields that file with its base name as RelPath.
func (w *Walker) Walk() ([]FileInfo, error) {
	if w.isFile {
		info, err := os.Stat(w.root)
		if err != nil {
			return nil, fmt.Errorf("stat file: %w", err)
		}
		return []FileInfo{{
			Path:    w.root,
			RelPath: filepath.Base(w.root),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}}, nil
	}

	var files []FileInfo

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}
		// Sockets, devices and symlinks are not transferred
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			return fmt.Errorf("get relative path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		if w.excludes.Match(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("get file info: %w", err)
		}

		files = append(files, FileInfo{
			Path:    path,
			RelPath: relPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	return files, nil
}
