package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("alpha"), []byte("one")))

	got, err := db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got)

	ok, err := db.Has([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = db.Has([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = db.Get([]byte("missing"))
	require.Error(t, err)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("mutable")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), got)

	got[1] = 'Y'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), again)
}

func TestBoltDBRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.db")
	db, err := NewBoltDB(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("listing"), []byte("payload")))

	got, err := db.Get([]byte("listing"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	ok, err := db.Has([]byte("listing"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = db.Get([]byte("absent"))
	require.Error(t, err)
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "leveldb"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("escrow"), []byte("payload")))

	got, err := db.Get([]byte("escrow"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	ok, err := db.Has([]byte("escrow"))
	require.NoError(t, err)
	require.True(t, ok)
}
