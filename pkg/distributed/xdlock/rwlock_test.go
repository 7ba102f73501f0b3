package xdlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xlocker/pkg/storage/xstore"
)

func TestReadWriteLock(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadersShare", func(t *testing.T) {
		f := newFixture(t)
		r1 := f.newLock(t, TypeRead, "doc", "r1")
		r2 := f.newLock(t, TypeRead, "doc", "r2")
		mustAcquire(t, r1)
		mustAcquire(t, r2)

		rw := r1.(*ReadWriteLock)
		readers, err := rw.Readers(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), readers)

		owners, err := rw.Owners(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"r1", "r2"}, owners)
	})

	t.Run("WriterExcludedByReaders", func(t *testing.T) {
		f := newFixture(t)
		r1 := f.newLock(t, TypeRead, "doc", "r1")
		r2 := f.newLock(t, TypeRead, "doc", "r2")
		w := f.newLock(t, TypeWrite, "doc", "w")
		mustAcquire(t, r1)
		mustAcquire(t, r2)

		mustNotAcquire(t, w)
		assert.Equal(t, reasonReadActive, f.sink.Last().Reason)

		_, err := r1.Release(ctx)
		require.NoError(t, err)
		mustNotAcquire(t, w)

		_, err = r2.Release(ctx)
		require.NoError(t, err)
		mustAcquire(t, w)

		exists, err := f.store.Exists(ctx, "lock:readwrite:doc:read")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("ReadersExcludedByWriter", func(t *testing.T) {
		f := newFixture(t)
		w := f.newLock(t, TypeWrite, "doc", "w")
		r := f.newLock(t, TypeRead, "doc", "r")
		mustAcquire(t, w)

		v, _, err := f.store.Get(ctx, "lock:readwrite:doc:write")
		require.NoError(t, err)
		assert.Equal(t, "w", v)
		owners, err := w.(*ReadWriteLock).Owners(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"w"}, owners)

		mustNotAcquire(t, r)
		assert.Equal(t, reasonWriteActive, f.sink.Last().Reason)

		mustNotAcquire(t, f.newLock(t, TypeWrite, "doc", "w2"))
		assert.Equal(t, reasonWriteHeld, f.sink.Last().Reason)

		released, err := w.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)
		mustAcquire(t, r)

		exists, err := f.store.Exists(ctx, "lock:readwrite:doc:owners")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("ReleaseRemovesReaderFromOwners", func(t *testing.T) {
		f := newFixture(t)
		r1 := f.newLock(t, TypeRead, "doc", "r1")
		r2 := f.newLock(t, TypeRead, "doc", "r2")
		mustAcquire(t, r1)
		mustAcquire(t, r2)

		_, err := r1.Release(ctx)
		require.NoError(t, err)
		owners, err := r2.(*ReadWriteLock).Owners(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"r2"}, owners)

		_, err = r2.Release(ctx)
		require.NoError(t, err)
		for _, key := range []string{"lock:readwrite:doc:read", "lock:readwrite:doc:owners"} {
			exists, err := f.store.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, exists, key)
		}
	})

	t.Run("ExpiredWriterReleaseIsOwnershipViolation", func(t *testing.T) {
		f := newFixture(t)
		w := f.newLock(t, TypeWrite, "doc", "w", WithTTL(time.Second))
		mustAcquire(t, w)
		f.clock.Advance(2 * time.Second)
		mustAcquire(t, f.newLock(t, TypeWrite, "doc", "w2"))

		_, err := w.Release(ctx)
		require.ErrorIs(t, err, ErrOwnershipViolation)

		v, _, err := f.store.Get(ctx, "lock:readwrite:doc:write")
		require.NoError(t, err)
		assert.Equal(t, "w2", v)
	})

	t.Run("ReaderBetweenWriterReleaseSteps", func(t *testing.T) {
		store := &afterDeleteStore{Memory: xstore.NewMemory(), key: "lock:readwrite:doc:write"}
		mgr, err := NewManager(store)
		require.NoError(t, err)

		w, err := mgr.New(TypeWrite, []string{"doc"}, WithOwner("w"))
		require.NoError(t, err)
		r, err := mgr.New(TypeRead, []string{"doc"}, WithOwner("r"))
		require.NoError(t, err)
		mustAcquire(t, w)

		var readerOK bool
		var readerErr error
		store.after = func() { readerOK, readerErr = r.Acquire(ctx) }

		released, err := w.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)
		require.NoError(t, readerErr)
		require.True(t, readerOK)

		rw := r.(*ReadWriteLock)
		readers, err := rw.Readers(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), readers)
		owners, err := rw.Owners(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"r"}, owners)
	})

	t.Run("WriterKeepsExistingOwnerEntries", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Set(ctx, "lock:readwrite:doc:owners", `["stale"]`, 0))
		w := f.newLock(t, TypeWrite, "doc", "w")
		mustAcquire(t, w)

		owners, err := w.(*ReadWriteLock).Owners(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"stale", "w"}, owners)

		_, err = w.Release(ctx)
		require.NoError(t, err)
		owners, err = w.(*ReadWriteLock).Owners(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"stale"}, owners)
	})

	t.Run("TypesReported", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, TypeRead, f.newLock(t, TypeRead, "doc", "a").Type())
		assert.Equal(t, TypeWrite, f.newLock(t, TypeWrite, "doc", "a").Type())
	})
}

// afterDeleteStore 在 key 被比较删除之后执行一次 after
type afterDeleteStore struct {
	*xstore.Memory
	key   string
	after func()
}

func (s *afterDeleteStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.Memory.CompareAndDelete(ctx, key, value)
	if key == s.key && s.after != nil {
		after := s.after
		s.after = nil
		after()
	}
	return ok, err
}
