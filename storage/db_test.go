package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("k"), []byte("v1")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)

	ok, err := db.Has([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.Put([]byte("k"), []byte("v2")))
	value, err = db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)

	require.NoError(t, db.Delete([]byte("k")))
	ok, err = db.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, db.Delete([]byte("k")))

	require.NoError(t, db.Put([]byte("gone"), []byte("x")))
	batch := db.NewBatch()
	batch.Put([]byte("b1"), []byte("1"))
	batch.Put([]byte("b2"), []byte("2"))
	batch.Delete([]byte("gone"))
	require.Equal(t, 3, batch.Len())
	ok, err = db.Has([]byte("b1"))
	require.NoError(t, err)
	require.False(t, ok, "batched writes must wait for Write")
	require.NoError(t, batch.Write())
	value, err = db.Get([]byte("b2"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), value)
	ok, err = db.Has([]byte("gone"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	buf := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), buf))
	buf[0] = 'x'
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), value)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestBoltDB(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestBoltBatchIsAllOrNothing(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()

	batch := db.NewBatch()
	batch.Put([]byte("first"), []byte("1"))
	batch.Put(nil, []byte("bad"))
	require.Error(t, batch.Write())

	ok, err := db.Has([]byte("first"))
	require.NoError(t, err)
	require.False(t, ok, "a failed batch must not leave earlier writes behind")
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open("rocksdb", t.TempDir())
	require.Error(t, err)

	db, err := Open("bolt", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	db.Close()
}
