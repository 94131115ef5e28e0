package store

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is a Store held entirely in process memory. Transactions are
// copy-on-write: Atomic works on a private copy that replaces the live data
// only when the callback succeeds.
type Memory struct {
	mu   sync.Mutex
	data *memData
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

// Get returns the entry at path.
func (m *Memory) Get(_ context.Context, path string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.get(path)
}

// Exists reports whether path is taken.
func (m *Memory) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data.paths[path]
	return ok, nil
}

// ScanPrefix returns all entries whose path starts with prefix.
func (m *Memory) ScanPrefix(_ context.Context, prefix string) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.scan(prefix), nil
}

// Create inserts e if its path is free.
func (m *Memory) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.create(e)
}

// Save upserts e by ID.
func (m *Memory) Save(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.save(e)
}

// SaveAll saves entries as one unit.
func (m *Memory) SaveAll(ctx context.Context, entries []*Entry) error {
	return m.Atomic(ctx, func(tx Store) error {
		return tx.SaveAll(ctx, entries)
	})
}

// Delete removes the entry at path.
func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.remove(path)
	return nil
}

// DeleteTree removes path and its descendants.
func (m *Memory) DeleteTree(_ context.Context, path string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.removeTree(path), nil
}

// Count returns the number of entries.
func (m *Memory) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data.rows)), nil
}

// Atomic runs fn on a copy of the data and publishes it if fn succeeds.
// Other callers block until the transaction finishes.
func (m *Memory) Atomic(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{data: m.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// memTx is the Store handed to Atomic callbacks. The owning Memory holds its
// lock for the lifetime of the transaction, so memTx does no locking itself.
type memTx struct {
	data *memData
}

func (t *memTx) Get(_ context.Context, path string) (*Entry, error) { return t.data.get(path) }

func (t *memTx) Exists(_ context.Context, path string) (bool, error) {
	_, ok := t.data.paths[path]
	return ok, nil
}

func (t *memTx) ScanPrefix(_ context.Context, prefix string) ([]*Entry, error) {
	return t.data.scan(prefix), nil
}

func (t *memTx) Create(_ context.Context, e *Entry) error { return t.data.create(e) }

func (t *memTx) Save(_ context.Context, e *Entry) error { return t.data.save(e) }

func (t *memTx) SaveAll(_ context.Context, entries []*Entry) error {
	return t.data.saveAll(entries)
}

func (t *memTx) Delete(_ context.Context, path string) error {
	t.data.remove(path)
	return nil
}

func (t *memTx) DeleteTree(_ context.Context, path string) (int64, error) {
	return t.data.removeTree(path), nil
}

func (t *memTx) Count(_ context.Context) (int64, error) { return int64(len(t.data.rows)), nil }

func (t *memTx) Atomic(_ context.Context, fn func(tx Store) error) error { return fn(t) }

func (t *memTx) Close() error { return nil }

// memData holds rows by ID with a unique index on path.
type memData struct {
	rows  map[string]*Entry
	paths map[string]string
}

func newMemData() *memData {
	return &memData{
		rows:  make(map[string]*Entry),
		paths: make(map[string]string),
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		rows:  make(map[string]*Entry, len(d.rows)),
		paths: make(map[string]string, len(d.paths)),
	}
	for id, e := range d.rows {
		c.rows[id] = e.Clone()
	}
	for p, id := range d.paths {
		c.paths[p] = id
	}
	return c
}

func (d *memData) get(path string) (*Entry, error) {
	id, ok := d.paths[path]
	if !ok {
		return nil, ErrNotFound
	}
	return d.rows[id].Clone(), nil
}

func (d *memData) scan(prefix string) []*Entry {
	var out []*Entry
	for p, id := range d.paths {
		if strings.HasPrefix(p, prefix) {
			out = append(out, d.rows[id].Clone())
		}
	}
	return out
}

func (d *memData) create(e *Entry) error {
	if _, taken := d.paths[e.Path]; taken {
		return ErrAlreadyExists
	}
	e.ID = uuid.NewString()
	d.rows[e.ID] = e.Clone()
	d.paths[e.Path] = e.ID
	return nil
}

func (d *memData) save(e *Entry) error {
	if e.ID == "" {
		return d.create(e)
	}
	if owner, taken := d.paths[e.Path]; taken && owner != e.ID {
		return ErrAlreadyExists
	}
	if old, ok := d.rows[e.ID]; ok && d.paths[old.Path] == e.ID {
		delete(d.paths, old.Path)
	}
	d.rows[e.ID] = e.Clone()
	d.paths[e.Path] = e.ID
	return nil
}

// saveAll releases every old path of the batch before claiming the new ones,
// so paths may be exchanged among members of the batch.
func (d *memData) saveAll(entries []*Entry) error {
	for _, e := range entries {
		if old, ok := d.rows[e.ID]; ok && d.paths[old.Path] == e.ID {
			delete(d.paths, old.Path)
		}
	}
	for _, e := range entries {
		if err := d.save(e); err != nil {
			return err
		}
	}
	return nil
}

func (d *memData) remove(path string) int64 {
	id, ok := d.paths[path]
	if !ok {
		return 0
	}
	delete(d.paths, path)
	delete(d.rows, id)
	return 1
}

func (d *memData) removeTree(path string) int64 {
	n := d.remove(path)
	prefix := path + "/"
	for p := range d.paths {
		if strings.HasPrefix(p, prefix) {
			n += d.remove(p)
		}
	}
	return n
}
