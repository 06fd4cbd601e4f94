// Package dbtest holds the behaviour every keyvaluedb engine must share.
package dbtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
)

type record struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value uint64
}

// Run runs the engine conformance tests, newDB must return an empty DB.
func Run(t *testing.T, newDB func(t *testing.T) keyvaluedb.KeyValueDB) {
	t.Run("read write delete", func(t *testing.T) {
		db := newDB(t)
		empty, err := keyvaluedb.IsEmpty(db)
		require.NoError(t, err)
		require.True(t, empty)

		var r record
		found, err := db.Read([]byte("a"), &r)
		require.NoError(t, err)
		require.False(t, found)

		require.NoError(t, db.Write([]byte("a"), &record{Name: "a", Value: 1}))
		found, err = db.Read([]byte("a"), &r)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, record{Name: "a", Value: 1}, r)

		require.NoError(t, db.Delete([]byte("a")))
		found, err = db.Read([]byte("a"), &r)
		require.NoError(t, err)
		require.False(t, found)
		// deleting missing key is not an error
		require.NoError(t, db.Delete([]byte("a")))
	})

	t.Run("invalid input", func(t *testing.T) {
		db := newDB(t)
		var r *record
		require.Error(t, db.Write(nil, "x"))
		require.Error(t, db.Write([]byte("k"), nil))
		require.Error(t, db.Write([]byte("k"), r))
		_, err := db.Read([]byte{}, &record{})
		require.Error(t, err)
		require.Error(t, db.Delete(nil))
		require.Error(t, db.Write([]byte("k"), make(chan int)))
	})

	t.Run("iterate in key order", func(t *testing.T) {
		db := newDB(t)
		for _, k := range []string{"b/2", "a/1", "b/1", "c/1", "b/3"} {
			require.NoError(t, db.Write([]byte(k), k))
		}
		var keys []string
		it := db.First()
		for ; it.Valid(); it.Next() {
			var v string
			require.NoError(t, it.Value(&v))
			require.Equal(t, string(it.Key()), v)
			keys = append(keys, v)
		}
		require.NoError(t, it.Close())
		require.Equal(t, []string{"a/1", "b/1", "b/2", "b/3", "c/1"}, keys)

		it = db.Find([]byte("b/15"))
		require.True(t, it.Valid())
		require.Equal(t, []byte("b/2"), it.Key())
		require.NoError(t, it.Close())

		it = db.Find([]byte("d"))
		require.False(t, it.Valid())
		require.Nil(t, it.Key())
		require.Error(t, it.Value(new(string)))
		require.NoError(t, it.Close())

		keys = keys[:0]
		require.NoError(t, keyvaluedb.IteratePrefix(db, []byte("b/"), func(key []byte, it keyvaluedb.Iterator) error {
			keys = append(keys, string(key))
			return nil
		}))
		require.Equal(t, []string{"b/1", "b/2", "b/3"}, keys)
	})

	t.Run("tx commit", func(t *testing.T) {
		db := newDB(t)
		require.NoError(t, db.Write([]byte("keep"), "old"))
		tx, err := db.StartTx()
		require.NoError(t, err)
		require.NoError(t, tx.Write([]byte("k1"), "1"))
		require.NoError(t, tx.Write([]byte("keep"), "new"))
		var v string
		found, err := tx.Read([]byte("k1"), &v)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "1", v)
		require.NoError(t, tx.Delete([]byte("k1")))
		found, err = tx.Read([]byte("k1"), &v)
		require.NoError(t, err)
		require.False(t, found)
		require.NoError(t, tx.Write([]byte("k2"), "2"))
		require.NoError(t, tx.Commit())

		found, err = db.Read([]byte("keep"), &v)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "new", v)
		found, err = db.Read([]byte("k2"), &v)
		require.NoError(t, err)
		require.True(t, found)
		found, err = db.Read([]byte("k1"), &v)
		require.NoError(t, err)
		require.False(t, found)

		// tx is closed after commit
		_, err = tx.Read([]byte("k2"), &v)
		require.ErrorContains(t, err, "tx closed")
		require.ErrorContains(t, tx.Write([]byte("k3"), "3"), "tx closed")
		require.ErrorContains(t, tx.Delete([]byte("k2")), "tx closed")
		require.ErrorContains(t, tx.Commit(), "tx closed")
	})

	t.Run("tx rollback", func(t *testing.T) {
		db := newDB(t)
		tx, err := db.StartTx()
		require.NoError(t, err)
		require.NoError(t, tx.Write([]byte("k1"), "1"))
		require.NoError(t, tx.Rollback())
		empty, err := keyvaluedb.IsEmpty(db)
		require.NoError(t, err)
		require.True(t, empty)
		// second rollback is no-op
		require.NoError(t, tx.Rollback())
		require.NoError(t, db.Write([]byte("k1"), "1"))
		empty, err = keyvaluedb.IsEmpty(db)
		require.NoError(t, err)
		require.False(t, empty)
	})
}
