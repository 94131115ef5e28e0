// Package store defines the flat, path-keyed collection that backs the
// document namespace, along with an in-memory implementation.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no entry has the requested path.
	ErrNotFound = errors.New("entry not found")
	// ErrAlreadyExists is returned when a write would duplicate a path.
	ErrAlreadyExists = errors.New("entry already exists")
)

// Entry is a single row of the namespace. Directories never carry content.
type Entry struct {
	ID          string
	Path        string
	Name        string
	IsDirectory bool
	Content     string
}

// Clone returns a copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}

// Store is the storage contract consumed by the tree operations. Paths are
// always canonical; the store never normalizes them.
type Store interface {
	// Get returns the entry at path, or ErrNotFound.
	Get(ctx context.Context, path string) (*Entry, error)
	// Exists reports whether an entry has exactly this path.
	Exists(ctx context.Context, path string) (bool, error)
	// ScanPrefix returns every entry whose path starts with the literal prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]*Entry, error)
	// Create inserts e only if its path is free, assigning e.ID.
	Create(ctx context.Context, e *Entry) error
	// Save updates the row identified by e.ID, or inserts when e.ID is empty.
	Save(ctx context.Context, e *Entry) error
	// SaveAll saves every entry as one unit.
	SaveAll(ctx context.Context, entries []*Entry) error
	// Delete removes the entry with exactly this path.
	Delete(ctx context.Context, path string) error
	// DeleteTree removes path and every entry below path + "/".
	DeleteTree(ctx context.Context, path string) (int64, error)
	// Count returns the number of entries.
	Count(ctx context.Context) (int64, error)
	// Atomic runs fn against a transactional view of the store. Changes made
	// through that view become visible together, or not at all when fn fails.
	Atomic(ctx context.Context, fn func(tx Store) error) error
	Close() error
}
