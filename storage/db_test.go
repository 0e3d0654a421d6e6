package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("lend/market/USDH"), []byte("a")))
	require.NoError(t, db.Put([]byte("lend/market/WETH"), []byte("b")))
	require.NoError(t, db.Put([]byte("lend/listing/USDH"), []byte("c")))

	value, err := db.Get([]byte("lend/market/USDH"))
	require.NoError(t, err)
	require.Equal(t, []byte("a"), value)

	ok, err := db.Has([]byte("lend/market/WETH"))
	require.NoError(t, err)
	require.True(t, ok)

	keys, err := db.KeysWithPrefix([]byte("lend/market/"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{
		[]byte("lend/market/USDH"),
		[]byte("lend/market/WETH"),
	}, keys)

	require.NoError(t, db.Delete([]byte("lend/market/USDH")))
	_, err = db.Get([]byte("lend/market/USDH"))
	require.ErrorIs(t, err, ErrNotFound)
	ok, err = db.Has([]byte("lend/market/USDH"))
	require.NoError(t, err)
	require.False(t, ok)

	// Overwrites replace in place.
	require.NoError(t, db.Put([]byte("lend/market/WETH"), []byte("b2")))
	value, err = db.Get([]byte("lend/market/WETH"))
	require.NoError(t, err)
	require.Equal(t, []byte("b2"), value)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("original")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("original"), stored)

	stored[0] = 'Y'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("original"), again)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDBReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	db, err = NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
}
