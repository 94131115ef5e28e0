package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CageChen/markdok/internal/store"
)

var entryColumns = []string{"id", "path", "name", "is_directory", "content"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "/docs/", escapeLike("/docs/"))
	assert.Equal(t, `/100\%/a\_b/`, escapeLike("/100%/a_b/"))
	assert.Equal(t, `/x\\y/`, escapeLike(`/x\y/`))
}

func TestGet(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM entries WHERE path = $1")).
		WithArgs("/docs/a.md").
		WillReturnRows(sqlmock.NewRows(entryColumns).AddRow("id-1", "/docs/a.md", "a.md", false, "# A"))

	e, err := s.Get(ctx, "/docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "id-1", e.ID)
	assert.Equal(t, "a.md", e.Name)
	assert.Equal(t, "# A", e.Content)
	assert.False(t, e.IsDirectory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM entries WHERE path = $1")).
		WithArgs("/missing").
		WillReturnRows(sqlmock.NewRows(entryColumns))

	_, err := s.Get(context.Background(), "/missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGet_DirectoryHasNullContent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM entries WHERE path = $1")).
		WithArgs("/docs").
		WillReturnRows(sqlmock.NewRows(entryColumns).AddRow("id-2", "/docs", "docs", true, nil))

	e, err := s.Get(context.Background(), "/docs")
	require.NoError(t, err)
	assert.True(t, e.IsDirectory)
	assert.Empty(t, e.Content)
}

func TestScanPrefix_EscapesWildcards(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE path LIKE $1 ESCAPE '\' ORDER BY path`)).
		WithArgs(`/50\%/%`).
		WillReturnRows(sqlmock.NewRows(entryColumns).
			AddRow("a", "/50%/x.md", "x.md", false, "").
			AddRow("b", "/50%/y", "y", true, nil))

	entries, err := s.ScanPrefix(context.Background(), "/50%/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/50%/x.md", entries[0].Path)
	assert.Equal(t, "/50%/y", entries[1].Path)
}

func TestCreate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (path) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "/docs/new.md", "new.md", false, "# New File\n").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &store.Entry{Path: "/docs/new.md", Name: "new.md", Content: "# New File\n"}
	require.NoError(t, s.Create(context.Background(), e))
	assert.NotEmpty(t, e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_PathTaken(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (path) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	e := &store.Entry{Path: "/docs", Name: "docs", IsDirectory: true}
	assert.ErrorIs(t, s.Create(context.Background(), e), store.ErrAlreadyExists)
	assert.Empty(t, e.ID)
}

func TestSave_UniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("id-1", "/b/a", "a", true, nil).
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.Save(context.Background(), &store.Entry{ID: "id-1", Path: "/b/a", Name: "a", IsDirectory: true})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestDeleteTree(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM entries WHERE path = $1 OR path LIKE $2 ESCAPE '\'`)).
		WithArgs("/docs/dir", "/docs/dir/%").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeleteTree(context.Background(), "/docs/dir")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestAtomic_CommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("c1", "/b/a/x.md", "x.md", false, "x").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("p1", "/b/a", "a", true, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Atomic(ctx, func(tx store.Store) error {
		if err := tx.SaveAll(ctx, []*store.Entry{{ID: "c1", Path: "/b/a/x.md", Name: "x.md", Content: "x"}}); err != nil {
			return err
		}
		return tx.Save(ctx, &store.Entry{ID: "p1", Path: "/b/a", Name: "a", IsDirectory: true})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAll_ParksRowsBeforeRewrite(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	// /n/m/n/j becomes /n/j while /n/m/n/m/n/j takes over /n/m/n/j
	entries := []*store.Entry{
		{ID: "deep", Path: "/n/m/n/j", Name: "j", Content: "deep"},
		{ID: "shallow", Path: "/n/j", Name: "j", Content: "shallow"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE entries SET path = '~parked:' || id WHERE id = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("deep", "/n/m/n/j", "j", false, "deep").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("shallow", "/n/j", "j", false, "shallow").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveAll(ctx, entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAll_ClashRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE entries SET path")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := s.SaveAll(ctx, []*store.Entry{
		{ID: "a", Path: "/taken", Name: "taken"},
		{ID: "b", Path: "/b2", Name: "b2"},
	})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM entries WHERE path = $1")).
		WithArgs("/a.md").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := s.Atomic(ctx, func(tx store.Store) error {
		if err := tx.Delete(ctx, "/a.md"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
