package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/pbinitiative/zenpvm/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqliteStorage(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), storagetest.Registry(), storagetest.Migrations())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tester := storagetest.StorageTester{}
	for name, testFunc := range tester.GetTests() {
		t.Run(name, testFunc(store, t))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(path, storagetest.Registry(), storagetest.Migrations())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path, storagetest.Registry(), storagetest.Migrations())
	require.NoError(t, err)
	defer store.Close()

	var version int
	require.NoError(t, store.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestExpandLists(t *testing.T) {
	query, args, err := expandLists("DELETE FROM T WHERE A = ? AND B IN (?)", []any{1, []string{"x", "y"}})
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM T WHERE A = ? AND B IN (?,?)", query)
	assert.Equal(t, []any{1, "x", "y"}, args)

	query, args, err = expandLists("DELETE FROM T WHERE B IN (?)", []any{[]string{}})
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM T WHERE B IN (NULL)", query)
	assert.Empty(t, args)

	_, _, err = expandLists("SELECT ?", []any{[]string{"a"}, 2})
	assert.Error(t, err)
}
