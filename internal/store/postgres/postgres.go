// Package postgres provides a PostgreSQL-backed namespace store.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/CageChen/markdok/internal/logging"
	"github.com/CageChen/markdok/internal/metrics"
	"github.com/CageChen/markdok/internal/store"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// parkPrefix marks rows whose path is being rewritten by SaveAll.
const parkPrefix = "~parked:"

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const selectColumns = `SELECT id, path, name, is_directory, content FROM entries`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a PostgreSQL namespace store.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
	log  *zap.Logger
}

// New opens a connection pool and verifies it.
func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection pool.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, q: db, log: logging.Named("postgres")}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateConnectionMetrics publishes pool statistics.
func (s *Store) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(s.db.Stats().OpenConnections)
}

// Migrate applies the embedded schema files in name order.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		s.log.Info("running migration", zap.String("file", f))
		content, err := migrations.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}
	return nil
}

// Get returns the entry at path.
func (s *Store) Get(ctx context.Context, path string) (*store.Entry, error) {
	defer observe("get", time.Now())

	row := s.q.QueryRowContext(ctx, selectColumns+` WHERE path = $1`, path)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return e, nil
}

// Exists reports whether path is taken.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	defer observe("exists", time.Now())

	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM entries WHERE path = $1)`, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query exists: %w", err)
	}
	return exists, nil
}

// ScanPrefix returns every entry whose path starts with prefix.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]*store.Entry, error) {
	defer observe("scan_prefix", time.Now())

	rows, err := s.q.QueryContext(ctx,
		selectColumns+` WHERE path LIKE $1 ESCAPE '\' ORDER BY path`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("query prefix: %w", err)
	}
	defer rows.Close()

	var entries []*store.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}

// Create inserts e unless its path is already taken.
func (s *Store) Create(ctx context.Context, e *store.Entry) error {
	defer observe("create", time.Now())

	id := uuid.NewString()
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO entries (id, path, name, is_directory, content)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (path) DO NOTHING`,
		id, e.Path, e.Name, e.IsDirectory, contentValue(e))
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	if n == 0 {
		return store.ErrAlreadyExists
	}
	e.ID = id
	return nil
}

// Save updates the row with e.ID, or creates e when it has no ID yet.
func (s *Store) Save(ctx context.Context, e *store.Entry) error {
	if e.ID == "" {
		return s.Create(ctx, e)
	}
	defer observe("save", time.Now())

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO entries (id, path, name, is_directory, content)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path,
			name = EXCLUDED.name,
			is_directory = EXCLUDED.is_directory,
			content = EXCLUDED.content`,
		e.ID, e.Path, e.Name, e.IsDirectory, contentValue(e))
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	return nil
}

// SaveAll saves entries inside one transaction. Existing rows are first
// parked on a placeholder path derived from their id, so the unique index on
// path only sees the final set of paths.
func (s *Store) SaveAll(ctx context.Context, entries []*store.Entry) error {
	return s.Atomic(ctx, func(tx store.Store) error {
		if err := tx.(*Store).park(ctx, entries); err != nil {
			return err
		}
		for _, e := range entries {
			if err := tx.Save(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// park moves the rows of entries out of the canonical path space. Canonical
// paths start with "/", placeholders never do.
func (s *Store) park(ctx context.Context, entries []*store.Entry) error {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ID != "" {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) < 2 {
		return nil
	}
	defer observe("park", time.Now())

	if _, err := s.q.ExecContext(ctx,
		`UPDATE entries SET path = '`+parkPrefix+`' || id WHERE id = ANY($1)`,
		pq.Array(ids)); err != nil {
		return fmt.Errorf("park entries: %w", err)
	}
	return nil
}

// Delete removes the entry at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	defer observe("delete", time.Now())

	result, err := s.q.ExecContext(ctx, `DELETE FROM entries WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	rows, _ := result.RowsAffected()
	s.log.Debug("deleted entry", zap.String("path", path), zap.Int64("rows", rows))
	return nil
}

// DeleteTree removes path and everything below it.
func (s *Store) DeleteTree(ctx context.Context, path string) (int64, error) {
	defer observe("delete_tree", time.Now())

	result, err := s.q.ExecContext(ctx,
		`DELETE FROM entries WHERE path = $1 OR path LIKE $2 ESCAPE '\'`,
		path, escapeLike(path+"/")+"%")
	if err != nil {
		return 0, fmt.Errorf("delete tree: %w", err)
	}
	rows, _ := result.RowsAffected()
	s.log.Debug("deleted tree", zap.String("path", path), zap.Int64("rows", rows))
	return rows, nil
}

// Count returns the total number of entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	defer observe("count", time.Now())

	var count int64
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// Atomic runs fn inside a database transaction. Nested calls join the
// enclosing transaction.
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, q: tx, inTx: true, log: s.log}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*store.Entry, error) {
	var (
		e       store.Entry
		content sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Path, &e.Name, &e.IsDirectory, &content); err != nil {
		return nil, err
	}
	e.Content = content.String
	return &e, nil
}

// contentValue stores directories with NULL content.
func contentValue(e *store.Entry) sql.NullString {
	if e.IsDirectory {
		return sql.NullString{}
	}
	return sql.NullString{String: e.Content, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// escapeLike escapes LIKE wildcards so prefix is matched literally.
func escapeLike(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}

func observe(query string, start time.Time) {
	metrics.RecordDBQuery(query, time.Since(start))
}
