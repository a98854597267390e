package executor

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/registry"
)

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	var got []string
	require.NoError(t, r.Register("sql", Func(func(_ context.Context, handler string) error {
		got = append(got, handler)
		return nil
	})))
	require.NoError(t, r.Register("fail", Func(func(context.Context, string) error {
		return errors.New("boom")
	})))

	require.NoError(t, r.Execute(t.Context(), "", "/a.sql"), "empty engine selects sql")
	require.NoError(t, r.Execute(t.Context(), "sql", "/b.sql"))
	assert.Equal(t, []string{"/a.sql", "/b.sql"}, got)

	err := r.Execute(t.Context(), "fail", "/c.sql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	err = r.Execute(t.Context(), "python", "/d.py")
	assert.ErrorIs(t, err, ErrUnknownEngine)

	assert.Equal(t, []string{"fail", "sql"}, r.Names())
	assert.Error(t, r.Register("sql", Func(nil)))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "target.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLEngine(t *testing.T) {
	db := openTestDB(t)
	scripts := registry.NewTree(fstest.MapFS{
		"billing/1.0.0.sql": {Data: []byte(`
			CREATE TABLE invoices (id INTEGER PRIMARY KEY, total REAL);
			INSERT INTO invoices (total) VALUES (10.5);
		`)},
		"billing/broken.sql": {Data: []byte(`
			INSERT INTO invoices (total) VALUES (1);
			INSERT INTO nowhere VALUES (1);
		`)},
		"billing/empty.sql": {Data: []byte("  \n")},
	})
	e := NewSQLEngine(db, scripts)
	ctx := t.Context()

	require.NoError(t, e.Execute(ctx, "/billing/1.0.0.sql"))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM invoices").Scan(&count))
	assert.Equal(t, 1, count)

	// A failing statement rolls back the whole script.
	require.Error(t, e.Execute(ctx, "/billing/broken.sql"))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM invoices").Scan(&count))
	assert.Equal(t, 1, count)

	assert.Error(t, e.Execute(ctx, "/billing/empty.sql"))
	assert.Error(t, e.Execute(ctx, "/billing/missing.sql"))
}
