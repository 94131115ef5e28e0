// Package docs implements the document namespace: a directory tree of
// markdown files emulated over a flat store keyed by canonical path.
//
// Every structural operation is expressed as prefix matching on paths. A
// directory's descendants are exactly the entries whose path starts with the
// directory path plus "/". Moves and cascading deletes run inside a single
// store transaction so callers never observe half of a subtree rewrite.
package docs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CageChen/markdok/internal/docpath"
	"github.com/CageChen/markdok/internal/logging"
	"github.com/CageChen/markdok/internal/markdown"
	"github.com/CageChen/markdok/internal/metrics"
	"github.com/CageChen/markdok/internal/store"
)

// NewFileContent is the body given to freshly created files.
const NewFileContent = "# New File\n"

// Renderer turns markdown source into HTML.
type Renderer interface {
	Parse(source []byte) (*markdown.ParseResult, error)
}

// Item is one row of a directory listing.
type Item struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
}

// ChangeOp names the kind of mutation reported to observers.
type ChangeOp string

// Change operations.
const (
	ChangeCreate ChangeOp = "create"
	ChangeUpdate ChangeOp = "update"
	ChangeRemove ChangeOp = "remove"
	ChangeMove   ChangeOp = "rename"
)

// Change describes a committed mutation of the namespace.
type Change struct {
	Op          ChangeOp `json:"event"`
	Path        string   `json:"path"`
	NewPath     string   `json:"newPath,omitempty"`
	IsDirectory bool     `json:"isDirectory"`
}

// Service exposes the namespace operations over a Store.
type Service struct {
	store    store.Store
	renderer Renderer
	log      *zap.Logger

	mu        sync.RWMutex
	observers []func(Change)
}

// NewService creates a namespace service.
func NewService(s store.Store, r Renderer) *Service {
	return &Service{
		store:    s,
		renderer: r,
		log:      logging.Named("docs"),
	}
}

// OnChange registers a callback invoked after every successful mutation.
func (s *Service) OnChange(cb func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, cb)
}

// EnsureRoot creates the root directory if it does not exist yet.
func (s *Service) EnsureRoot(ctx context.Context) error {
	ok, err := s.store.Exists(ctx, docpath.Root)
	if err != nil {
		return storageFailure("ensure_root", docpath.Root, err)
	}
	if ok {
		return nil
	}

	root := &store.Entry{Path: docpath.Root, Name: docpath.Root, IsDirectory: true}
	if err := s.store.Create(ctx, root); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return storageFailure("ensure_root", docpath.Root, err)
	}
	s.log.Info("seeded root directory")
	return nil
}

// Count returns the number of entries and refreshes the size gauge.
func (s *Service) Count(ctx context.Context) (int64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, storageFailure("count", "", err)
	}
	metrics.SetEntries(n)
	return n, nil
}

// List returns the direct children of dir. A directory without children, or
// one that does not exist, yields an empty list.
func (s *Service) List(ctx context.Context, dir string) (items []Item, err error) {
	start := time.Now()
	dir = docpath.Normalize(dir)
	defer func() { s.record("list", dir, start, err) }()

	prefix := docpath.ChildPrefix(dir)
	entries, err := s.store.ScanPrefix(ctx, prefix)
	if err != nil {
		return nil, storageFailure("list", dir, err)
	}

	items = make([]Item, 0, len(entries))
	for _, e := range entries {
		if !docpath.IsDirectChild(e.Path, prefix) {
			continue
		}
		items = append(items, Item{Name: e.Name, Path: e.Path, IsDirectory: e.IsDirectory})
	}

	// Directories first, then by name
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDirectory != items[j].IsDirectory {
			return items[i].IsDirectory
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// Read returns the raw markdown of a file.
func (s *Service) Read(ctx context.Context, path string) (content string, err error) {
	start := time.Now()
	path = docpath.Normalize(path)
	defer func() { s.record("read", path, start, err) }()

	e, err := s.lookupFile(ctx, "read", path, "Cannot read a directory.")
	if err != nil {
		return "", err
	}
	return e.Content, nil
}

// View returns the rendered form of a file.
func (s *Service) View(ctx context.Context, path string) (result *markdown.ParseResult, err error) {
	start := time.Now()
	path = docpath.Normalize(path)
	defer func() { s.record("view", path, start, err) }()

	e, err := s.lookupFile(ctx, "view", path, "Cannot render a directory.")
	if err != nil {
		return nil, err
	}

	result, err = s.renderer.Parse([]byte(e.Content))
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", path, err)
	}
	return result, nil
}

// Save replaces the content of an existing file.
func (s *Service) Save(ctx context.Context, path, content string) (err error) {
	start := time.Now()
	path = docpath.Normalize(path)
	defer func() { s.record("save", path, start, err) }()

	e, err := s.lookupFile(ctx, "save", path, "Cannot save content to a directory.")
	if err != nil {
		return err
	}

	e.Content = content
	if err := s.store.Save(ctx, e); err != nil {
		return s.storeErr("save", path, err)
	}

	s.notify(Change{Op: ChangeUpdate, Path: path})
	return nil
}

// CreateFile creates an empty markdown file at path. The parent directory
// is not required to exist.
func (s *Service) CreateFile(ctx context.Context, path string) error {
	return s.create(ctx, "create_file", path, false)
}

// CreateDirectory creates a directory at path. The parent directory is not
// required to exist.
func (s *Service) CreateDirectory(ctx context.Context, path string) error {
	return s.create(ctx, "create_directory", path, true)
}

func (s *Service) create(ctx context.Context, op, raw string, isDir bool) (err error) {
	start := time.Now()
	path := docpath.Normalize(raw)
	defer func() { s.record(op, path, start, err) }()

	const taken = "File or directory with this name already exists."
	if path == docpath.Root {
		return alreadyExists(op, path, taken)
	}

	exists, err := s.store.Exists(ctx, path)
	if err != nil {
		return storageFailure(op, path, err)
	}
	if exists {
		return alreadyExists(op, path, taken)
	}

	e := &store.Entry{
		Path:        path,
		Name:        docpath.Base(path),
		IsDirectory: isDir,
	}
	if !isDir {
		e.Content = NewFileContent
	}

	// Create is insert-if-absent, so a concurrent creator that slipped past
	// the Exists check still loses here.
	if err := s.store.Create(ctx, e); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return alreadyExists(op, path, taken)
		}
		return storageFailure(op, path, err)
	}

	s.notify(Change{Op: ChangeCreate, Path: path, IsDirectory: isDir})
	return nil
}

// Move relocates source, together with its whole subtree, into the directory
// destDir. The entry keeps its name; only the ancestor prefix changes.
func (s *Service) Move(ctx context.Context, source, destDir string) (err error) {
	start := time.Now()
	src := docpath.Normalize(source)
	dst := docpath.Normalize(destDir)
	defer func() { s.record("move", src, start, err) }()

	if src == docpath.Root {
		return invalid("move", src, "Cannot move the root directory.")
	}

	var (
		newPath string
		isDir   bool
	)
	err = s.store.Atomic(ctx, func(tx store.Store) error {
		e, err := tx.Get(ctx, src)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("move", src, "Source file not found.")
		}
		if err != nil {
			return storageFailure("move", src, err)
		}
		if docpath.IsWithin(dst, src) {
			return invalid("move", src, "Cannot move a directory into itself.")
		}

		target, err := tx.Get(ctx, dst)
		switch {
		case err == nil && !target.IsDirectory:
			return invalid("move", dst, "Destination is not a directory.")
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return storageFailure("move", dst, err)
		}

		newPath = docpath.Join(dst, e.Name)
		taken, err := tx.Exists(ctx, newPath)
		if err != nil {
			return storageFailure("move", newPath, err)
		}
		if taken {
			return alreadyExists("move", newPath,
				"A file or directory with that name already exists in the destination.")
		}

		isDir = e.IsDirectory
		e.Path = newPath
		batch := []*store.Entry{e}

		// The entry and its descendants are rewritten as one batch: a rebased
		// path may equal the old path of another member of the subtree.
		if isDir {
			children, err := tx.ScanPrefix(ctx, docpath.ChildPrefix(src))
			if err != nil {
				return storageFailure("move", src, err)
			}
			for _, c := range children {
				c.Path = docpath.Rebase(c.Path, src, newPath)
			}
			batch = append(batch, children...)
			s.log.Debug("rewriting descendants",
				zap.String("from", src), zap.String("to", newPath), zap.Int("count", len(children)))
		}

		if err := tx.SaveAll(ctx, batch); err != nil {
			return s.storeErr("move", newPath, err)
		}
		return nil
	})
	if err != nil {
		return storageFailure("move", src, err)
	}

	s.notify(Change{Op: ChangeMove, Path: src, NewPath: newPath, IsDirectory: isDir})
	return nil
}

// Delete removes a file, or a directory together with all its descendants.
func (s *Service) Delete(ctx context.Context, path string) (err error) {
	start := time.Now()
	path = docpath.Normalize(path)
	defer func() { s.record("delete", path, start, err) }()

	if path == docpath.Root {
		return invalid("delete", path, "Cannot delete the root directory.")
	}

	var isDir bool
	err = s.store.Atomic(ctx, func(tx store.Store) error {
		e, err := tx.Get(ctx, path)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("delete", path, "File or directory not found.")
		}
		if err != nil {
			return storageFailure("delete", path, err)
		}

		isDir = e.IsDirectory
		if isDir {
			n, err := tx.DeleteTree(ctx, path)
			if err != nil {
				return storageFailure("delete", path, err)
			}
			s.log.Debug("deleted subtree", zap.String("path", path), zap.Int64("entries", n))
			return nil
		}
		if err := tx.Delete(ctx, path); err != nil {
			return storageFailure("delete", path, err)
		}
		return nil
	})
	if err != nil {
		return storageFailure("delete", path, err)
	}

	s.notify(Change{Op: ChangeRemove, Path: path, IsDirectory: isDir})
	return nil
}

// lookupFile fetches path and rejects directories with dirMsg.
func (s *Service) lookupFile(ctx context.Context, op, path, dirMsg string) (*store.Entry, error) {
	e, err := s.store.Get(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound(op, path, "File not found.")
	}
	if err != nil {
		return nil, storageFailure(op, path, err)
	}
	if e.IsDirectory {
		return nil, invalid(op, path, dirMsg)
	}
	return e, nil
}

// storeErr translates store sentinels from a write into domain errors.
func (s *Service) storeErr(op, path string, err error) error {
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		return alreadyExists(op, path, "A file or directory with that name already exists.")
	case errors.Is(err, store.ErrNotFound):
		return notFound(op, path, "File or directory not found.")
	default:
		return storageFailure(op, path, err)
	}
}

func (s *Service) notify(c Change) {
	s.mu.RLock()
	observers := make([]func(Change), len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, cb := range observers {
		cb(c)
	}
}

func (s *Service) record(op, path string, start time.Time, err error) {
	elapsed := time.Since(start)
	kind := KindOf(err)

	result := "ok"
	if err != nil {
		result = kind.String()
	}
	metrics.RecordOperation(op, result, elapsed)

	switch {
	case err == nil:
		s.log.Debug(op, zap.String("path", path), zap.Duration("duration", elapsed))
	case kind == KindStorageFailure || kind == KindUnknown:
		s.log.Warn(op+" failed", zap.String("path", path), zap.Error(err))
	default:
		s.log.Debug(op+" rejected", zap.String("path", path), zap.String("reason", Message(err)))
	}
}
