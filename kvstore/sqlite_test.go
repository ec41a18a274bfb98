package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akorchen/gridsync/common"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);
`)
	require.NoError(t, err)
	return NewSQLite(db)
}

func TestSQLite_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)

	require.NoError(t, s.Set(ctx, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}))

	got, err := s.Get(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)

	// upsert overwrites
	require.NoError(t, s.Set(ctx, map[string][]byte{"a": []byte("9")}))
	got, err = s.Get(ctx, []string{"a"})
	require.NoError(t, err)
	require.Equal(t, []byte("9"), got["a"])

	require.NoError(t, s.Remove(ctx, []string{"a", "b"}))
	got, err = s.Get(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSQLite_GetEmptyKeys(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)

	got, err := s.Get(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSQLite_KeysPrefix(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)

	require.NoError(t, s.Set(ctx, map[string][]byte{
		"habit_032026_x": []byte("1"),
		"habit_042026_y": []byte("2"),
	}))

	keys, err := s.Keys(ctx, "habit_032026_")
	require.NoError(t, err)
	require.Equal(t, []string{"habit_032026_x"}, keys)
}

func TestSQLite_Clear(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)

	require.NoError(t, s.Set(ctx, map[string][]byte{"a": []byte("1")}))
	require.NoError(t, s.Clear(ctx))

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestSQLite_ClosedReportsStorageUnavailable(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", "file:closed?mode=memory&cache=shared")
	require.NoError(t, err)
	s := NewSQLite(db)
	require.NoError(t, db.Close())

	_, err = s.Get(ctx, []string{"a"})
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrStorageUnavailable))

	err = s.Set(ctx, map[string][]byte{"a": []byte("1")})
	require.True(t, errors.Is(err, common.ErrStorageUnavailable))
}

func TestOpenSQLite_MigratesAndPersists(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "kv.db")

	s, err := OpenSQLite(ctx, dsn)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, map[string][]byte{"k": []byte("v")}))
	require.NoError(t, s.Close())

	// reopen: migration is idempotent and data survives
	s, err = OpenSQLite(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.Get(ctx, []string{"k"})
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got["k"])
}
