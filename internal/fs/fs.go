// Package fs provides read-only sources of markdown files, either a local
// directory or a git ref, that can be imported into the namespace.
package fs

import (
	"errors"
	"io/fs"
	"strings"
)

// ErrNotExist is returned for paths missing from a source.
var ErrNotExist = fs.ErrNotExist

// FileInfo holds file metadata.
type FileInfo struct {
	Name  string
	IsDir bool
	Size  int64
}

// DirEntry represents a single directory entry.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FileSystem abstracts read access so the importer can work with either
// the local filesystem or a git object database. Paths are slash-separated
// and relative to the source root; "" is the root.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (FileInfo, error)
	ReadDir(path string) ([]DirEntry, error)
}

// SkipDir can be returned from a WalkFunc to skip a directory's contents.
var SkipDir = fs.SkipDir

// WalkFunc is called for every entry below the walk root, parents first.
type WalkFunc func(path string, entry DirEntry) error

// Walk visits every entry below root in depth-first order.
func Walk(fsys FileSystem, root string, fn WalkFunc) error {
	root = strings.Trim(root, "/")
	entries, err := fsys.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := e.Name
		if root != "" {
			p = root + "/" + e.Name
		}
		if err := fn(p, e); err != nil {
			if errors.Is(err, SkipDir) && e.IsDir {
				continue
			}
			return err
		}
		if e.IsDir {
			if err := Walk(fsys, p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
