package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "limone.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSlot(t *testing.T) {
	db := openTestDB(t)
	slot := db.Slot(HistoryBucket, "tasks")

	t.Run("AbsentIsNil", func(t *testing.T) {
		v, err := slot.Load()
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		require.NoError(t, slot.Save([]byte(`[1,2]`)))
		v, err := slot.Load()
		require.NoError(t, err)
		assert.Equal(t, `[1,2]`, string(v))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, slot.Save([]byte(`[]`)))
		v, err := slot.Load()
		require.NoError(t, err)
		assert.Equal(t, `[]`, string(v))
	})
}

func TestQueueFIFO(t *testing.T) {
	db := openTestDB(t)
	q := db.Queue(QueueBucket)

	_, err := q.Peek()
	assert.ErrorIs(t, err, ErrEmpty)

	for _, v := range []string{"a", "b", "c"} {
		_, err := q.Push([]byte(v))
		require.NoError(t, err)
	}

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rec, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, "a", string(rec.Value))

	require.NoError(t, q.Update(rec.Seq, []byte("a2")))
	rec, err = q.Peek()
	require.NoError(t, err)
	assert.Equal(t, "a2", string(rec.Value))

	require.NoError(t, q.Delete(rec.Seq))
	rec, err = q.Peek()
	require.NoError(t, err)
	assert.Equal(t, "b", string(rec.Value))
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limone.db")

	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Queue(QueueBucket).Push([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	rec, err := db.Queue(QueueBucket).Peek()
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(rec.Value))
}
