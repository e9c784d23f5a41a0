package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/kvstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newQueue(t *testing.T, store kvstore.Store) *Queue {
	t.Helper()
	clock := &fixedClock{t: time.UnixMilli(1700000000000)}
	return New(store, zap.NewNop(), clock.Now)
}

func TestEnqueue_BuildsRecord(t *testing.T) {
	q := newQueue(t, kvstore.NewMemoryStore())
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, ActionLocationUpdate, map[string]any{"workerId": "w1"})
	require.NoError(t, err)

	assert.Regexp(t, `^mut_\d+_[0-9a-f]{12}$`, rec.ID)
	assert.Equal(t, ActionLocationUpdate, rec.Action)
	assert.JSONEq(t, `{"workerId":"w1"}`, string(rec.Payload))
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, int64(1700000000001), rec.EnqueuedAt)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueue_RejectsUnknownAction(t *testing.T) {
	q := newQueue(t, kvstore.NewMemoryStore())

	_, err := q.Enqueue(context.Background(), Action("teleport"), nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestEnqueue_RejectsInvalidRawPayload(t *testing.T) {
	q := newQueue(t, kvstore.NewMemoryStore())

	_, err := q.Enqueue(context.Background(), ActionTaskUpdate, json.RawMessage(`{oops`))
	assert.Error(t, err)
}

func TestAll_PreservesFIFO(t *testing.T) {
	q := newQueue(t, kvstore.NewMemoryStore())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := q.Enqueue(ctx, ActionTaskUpdate, map[string]int{"n": i})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	all, err := q.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, rec := range all {
		assert.Equal(t, ids[i], rec.ID)
	}
}

func TestAll_CorruptValueReadsAsEmpty(t *testing.T) {
	store := kvstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, KeyQueue, []byte("garbage")))

	q := newQueue(t, store)
	all, err := q.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCommit_RemovesRetriesAndDrops(t *testing.T) {
	store := kvstore.NewMemoryStore()
	q := newQueue(t, store)
	ctx := context.Background()

	ok, _ := q.Enqueue(ctx, ActionTaskUpdate, nil)
	retry, _ := q.Enqueue(ctx, ActionLocationUpdate, nil)
	drop, _ := q.Enqueue(ctx, ActionPhotoUpload, nil)

	res, err := q.Commit(ctx, Outcome{
		Remove: []string{ok.ID},
		Retry:  map[string]string{retry.ID: "timeout"},
		Drop:   map[string]string{drop.ID: "rejected"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Removed, 1)
	assert.Len(t, res.Retried, 1)
	assert.Len(t, res.Dropped, 1)

	all, err := q.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, retry.ID, all[0].ID)
	assert.Equal(t, 1, all[0].RetryCount)
	assert.Equal(t, "timeout", all[0].LastError)

	failed, err := q.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, drop.ID, failed[0].ID)
	assert.Equal(t, 1, failed[0].RetryCount)
	assert.NotZero(t, failed[0].FailedAt)
}

func TestCommit_KeepsRecordsEnqueuedAfterSnapshot(t *testing.T) {
	q := newQueue(t, kvstore.NewMemoryStore())
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, ActionTaskUpdate, nil)
	snapshot, err := q.All(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	late, _ := q.Enqueue(ctx, ActionTaskCompletion, nil)

	_, err = q.Commit(ctx, Outcome{Remove: []string{first.ID}})
	require.NoError(t, err)

	all, err := q.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, late.ID, all[0].ID)
}

func TestEnqueue_ConcurrentAppendsAreNotLost(t *testing.T) {
	q := newQueue(t, kvstore.NewMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(ctx, ActionLocationUpdate, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestRequeue_MovesDeadLetterBack(t *testing.T) {
	q := newQueue(t, kvstore.NewMemoryStore())
	ctx := context.Background()

	a, _ := q.Enqueue(ctx, ActionTaskUpdate, nil)
	b, _ := q.Enqueue(ctx, ActionTaskUpdate, nil)
	_, err := q.Commit(ctx, Outcome{Drop: map[string]string{a.ID: "x", b.ID: "y"}})
	require.NoError(t, err)

	moved, err := q.Requeue(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	all, _ := q.All(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, 0, all[0].RetryCount)

	failed, _ := q.Failed(ctx)
	require.Len(t, failed, 1)
	assert.Equal(t, b.ID, failed[0].ID)

	moved, err = q.Requeue(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	failed, _ = q.Failed(ctx)
	assert.Empty(t, failed)
}

func TestClear_RemovesQueueAndDeadLetters(t *testing.T) {
	q := newQueue(t, kvstore.NewMemoryStore())
	ctx := context.Background()

	a, _ := q.Enqueue(ctx, ActionTaskUpdate, nil)
	_, _ = q.Enqueue(ctx, ActionTaskUpdate, nil)
	_, err := q.Commit(ctx, Outcome{Drop: map[string]string{a.ID: "x"}})
	require.NoError(t, err)

	require.NoError(t, q.Clear(ctx))

	all, _ := q.All(ctx)
	failed, _ := q.Failed(ctx)
	assert.Empty(t, all)
	assert.Empty(t, failed)
}

func TestRoundTrip_AcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	store, err := kvstore.NewSQLiteStore(path)
	require.NoError(t, err)
	q := newQueue(t, store)

	rec, err := q.Enqueue(ctx, ActionTaskUpdate, map[string]string{"taskId": "t1", "status": "in_progress"}, WithCacheKey("task_t1"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := kvstore.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := newQueue(t, reopened).All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rec.ID, all[0].ID)
	assert.Equal(t, rec.Action, all[0].Action)
	assert.JSONEq(t, string(rec.Payload), string(all[0].Payload))
	assert.Equal(t, "task_t1", all[0].CacheKey)
}

func TestParseAction(t *testing.T) {
	for _, a := range Actions() {
		got, err := ParseAction(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseAction("nope")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

// slowStore delays reads made inside Update so a concurrent writer lands
// between the read and the write of the same transaction
type slowStore struct {
	*kvstore.SQLiteStore
	delay time.Duration
}

func (s *slowStore) Update(ctx context.Context, fn func(tx kvstore.Tx) error) error {
	return s.SQLiteStore.Update(ctx, func(tx kvstore.Tx) error {
		return fn(&slowTx{Tx: tx, delay: s.delay})
	})
}

type slowTx struct {
	kvstore.Tx
	delay time.Duration
}

func (t *slowTx) Get(ctx context.Context, key string) ([]byte, error) {
	time.Sleep(t.delay)
	return t.Tx.Get(ctx, key)
}

func TestCommit_KeepsEnqueueFromOtherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	runStore, err := kvstore.NewSQLiteStore(path)
	require.NoError(t, err)
	defer runStore.Close()
	cliStore, err := kvstore.NewSQLiteStore(path)
	require.NoError(t, err)
	defer cliStore.Close()

	runQ := newQueue(t, &slowStore{SQLiteStore: runStore, delay: 50 * time.Millisecond})
	cliQ := newQueue(t, cliStore)

	r1, err := cliQ.Enqueue(ctx, ActionTaskUpdate, map[string]string{"taskId": "t1"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := runQ.Commit(ctx, Outcome{Remove: []string{r1.ID}})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	r2, err := cliQ.Enqueue(ctx, ActionTaskUpdate, map[string]string{"taskId": "t2"})
	require.NoError(t, err)
	require.NoError(t, <-done)

	all, err := cliQ.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, r2.ID, all[0].ID)
}

func TestEnqueue_TwoProcessesNeverLoseRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	var queues []*Queue
	for i := 0; i < 2; i++ {
		store, err := kvstore.NewSQLiteStore(path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		queues = append(queues, newQueue(t, store))
	}

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *Queue) {
			defer wg.Done()
			for i := 0; i < 15; i++ {
				_, err := q.Enqueue(ctx, ActionLocationUpdate, nil)
				assert.NoError(t, err)
			}
		}(q)
	}
	wg.Wait()

	n, err := queues[0].Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
}
