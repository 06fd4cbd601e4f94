package boltdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
	"github.com/alphabill-org/ledgercore/internal/keyvaluedb/dbtest"
)

func initBoltDB(t *testing.T) *BoltDB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestBoltDB(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) keyvaluedb.KeyValueDB { return initBoltDB(t) })
}

func TestBoltDB_Reopen(t *testing.T) {
	file := filepath.Join(t.TempDir(), "reopen.db")
	db, err := New(file)
	require.NoError(t, err)
	require.Equal(t, file, db.Path())
	require.NoError(t, db.Write([]byte("k"), "v"))
	require.NoError(t, db.Close())

	db, err = New(file)
	require.NoError(t, err)
	defer db.Close()
	var v string
	found, err := db.Read([]byte("k"), &v)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", v)
}

func TestBoltTx_Nil(t *testing.T) {
	tx, err := newBoltTx(nil, []byte("test"), keyvaluedb.Encode, keyvaluedb.Decode)
	require.Error(t, err)
	require.Nil(t, tx)
}

func TestBoltIterator_CloseTwice(t *testing.T) {
	db := initBoltDB(t)
	require.NoError(t, db.Write([]byte("k"), "v"))
	it := db.First()
	require.True(t, it.Valid())
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	require.False(t, it.Valid())
}
