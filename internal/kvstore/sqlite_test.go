package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldsync.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSQLite_SetAndGet(t *testing.T) {
	s, _ := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte(`{"a":1}`)))

	v, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(v))
}

func TestSQLite_GetMissing_ReturnsNilNil(t *testing.T) {
	s, _ := newSQLite(t)

	v, err := s.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSQLite_SetOverwrites(t *testing.T) {
	s, _ := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("old")))
	require.NoError(t, s.Set(ctx, "k", []byte("new")))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}

func TestSQLite_RemoveIsIdempotent(t *testing.T) {
	s, _ := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Set(ctx, "b", []byte("2")))
	require.NoError(t, s.Remove(ctx, "a", "b", "missing"))
	require.NoError(t, s.Remove(ctx, "a"))

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSQLite_RemovePrefix_EscapesWildcards(t *testing.T) {
	s, _ := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "offline_tasks_worker", []byte("1")))
	require.NoError(t, s.Set(ctx, "offline_tasks_task_1", []byte("2")))
	require.NoError(t, s.Set(ctx, "offlineXtasks_other", []byte("3")))
	require.NoError(t, s.Set(ctx, "offline_queue", []byte("[]")))

	require.NoError(t, s.RemovePrefix(ctx, "offline_tasks_"))

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"offlineXtasks_other", "offline_queue"}, keys)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	s, path := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, s, "last_sync", int64(1700000000000)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	var got int64
	found, err := GetJSON(ctx, reopened, "last_sync", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1700000000000), got)
}

func TestSQLite_ClosedStoreErrors(t *testing.T) {
	s, _ := newSQLite(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set(context.Background(), "k", nil), ErrClosed)
}

func TestSQLite_ConcurrentWriters(t *testing.T) {
	s, _ := newSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, SetJSON(ctx, s, "counter", i))
		}(i)
	}
	wg.Wait()

	var v int
	found, err := GetJSON(ctx, s, "counter", &v)
	require.NoError(t, err)
	assert.True(t, found)
}

func increment(ctx context.Context, s Store) error {
	return s.Update(ctx, func(tx Tx) error {
		var n int
		if _, err := GetJSON(ctx, tx, "counter", &n); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
		return SetJSON(ctx, tx, "counter", n+1)
	})
}

func TestSQLite_UpdateIsAtomicAcrossStores(t *testing.T) {
	first, path := newSQLite(t)
	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, s := range []Store{first, second} {
		wg.Add(1)
		go func(s Store) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, increment(ctx, s))
			}
		}(s)
	}
	wg.Wait()

	var n int
	_, err = GetJSON(ctx, first, "counter", &n)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
}

func TestSQLite_UpdateRollsBackOnError(t *testing.T) {
	s, _ := newSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", []byte("1")))

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.Set(ctx, "a", []byte("2")))
		require.NoError(t, tx.Set(ctx, "b", []byte("3")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	v, err = s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		return tx.Remove(ctx, "a")
	}))
	v, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, v)
}
