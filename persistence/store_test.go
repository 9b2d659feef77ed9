// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
)

var gateKey = identity.NewSingleton("SmartGate")

// testStoreContract runs the Store semantics every implementation shares.
func testStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Read(ctx, gateKey)
	require.ErrorIs(t, err, gerrors.ErrNotFound)

	version, err := store.Write(ctx, gateKey, []byte("v1"), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	_, err = store.Write(ctx, gateKey, []byte("again"), 0)
	require.ErrorIs(t, err, gerrors.ErrVersionConflict)

	version, err = store.Write(ctx, gateKey, []byte("v2"), 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	_, err = store.Write(ctx, gateKey, []byte("stale"), 1)
	require.ErrorIs(t, err, gerrors.ErrVersionConflict)

	record, err := store.Read(ctx, gateKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), record.State)
	assert.EqualValues(t, 2, record.Version)

	require.ErrorIs(t, store.Delete(ctx, gateKey, 1), gerrors.ErrVersionConflict)
	require.NoError(t, store.Delete(ctx, gateKey, 2))
	_, err = store.Read(ctx, gateKey)
	require.ErrorIs(t, err, gerrors.ErrNotFound)
	require.NoError(t, store.Delete(ctx, gateKey, 0))
}

func TestMemoryStore(t *testing.T) {
	t.Run("With store contract", func(t *testing.T) {
		testStoreContract(t, NewMemoryStore())
	})

	t.Run("With returned buffers isolated", func(t *testing.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		state := []byte("abc")
		_, err := store.Write(ctx, gateKey, state, 0)
		require.NoError(t, err)
		state[0] = 'x'

		record, err := store.Read(ctx, gateKey)
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), record.State)
		record.State[0] = 'y'

		record, err = store.Read(ctx, gateKey)
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), record.State)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("With concurrent writers", func(t *testing.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Write(ctx, gateKey, []byte("x"), 0); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)
	})
}

func TestCachedStore(t *testing.T) {
	t.Run("With store contract", func(t *testing.T) {
		store, err := NewCachedStore(NewMemoryStore(), 16)
		require.NoError(t, err)
		testStoreContract(t, store)
	})

	t.Run("With cache-first reads", func(t *testing.T) {
		ctx := context.Background()
		counting := &countingStore{Store: NewMemoryStore()}
		store, err := NewCachedStore(counting, 16)
		require.NoError(t, err)

		_, err = store.Write(ctx, gateKey, []byte("v1"), 0)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			record, err := store.Read(ctx, gateKey)
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), record.State)
		}
		assert.Zero(t, counting.reads)

		store.Invalidate(gateKey)
		_, err = store.Read(ctx, gateKey)
		require.NoError(t, err)
		assert.Equal(t, 1, counting.reads)
	})

	t.Run("With conflict eviction", func(t *testing.T) {
		ctx := context.Background()
		underlying := NewMemoryStore()
		store, err := NewCachedStore(underlying, 16)
		require.NoError(t, err)

		_, err = store.Write(ctx, gateKey, []byte("v1"), 0)
		require.NoError(t, err)
		// another silo writes behind the cache
		_, err = underlying.Write(ctx, gateKey, []byte("v2"), 1)
		require.NoError(t, err)

		_, err = store.Write(ctx, gateKey, []byte("lost"), 1)
		require.ErrorIs(t, err, gerrors.ErrVersionConflict)

		record, err := store.Read(ctx, gateKey)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), record.State)
	})

	t.Run("With invalid size", func(t *testing.T) {
		_, err := NewCachedStore(NewMemoryStore(), 0)
		require.Error(t, err)
	})
}

func TestRetryStore(t *testing.T) {
	t.Run("With store contract", func(t *testing.T) {
		testStoreContract(t, NewRetryStore(NewMemoryStore(), 3, time.Millisecond, time.Second))
	})

	t.Run("With transient failures", func(t *testing.T) {
		ctx := context.Background()
		flaky := &flakyStore{Store: NewMemoryStore(), failures: 2}
		store := NewRetryStore(flaky, 3, time.Millisecond, time.Second)

		version, err := store.Write(ctx, gateKey, []byte("v1"), 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1, version)
		assert.Equal(t, 3, flaky.calls)
	})

	t.Run("With exhausted retries", func(t *testing.T) {
		ctx := context.Background()
		flaky := &flakyStore{Store: NewMemoryStore(), failures: 10}
		store := NewRetryStore(flaky, 2, time.Millisecond, time.Second)

		_, err := store.Read(ctx, gateKey)
		require.Error(t, err)
		assert.Equal(t, 3, flaky.calls)
	})

	t.Run("With permanent errors", func(t *testing.T) {
		ctx := context.Background()
		counting := &countingStore{Store: NewMemoryStore()}
		store := NewRetryStore(counting, 5, time.Millisecond, time.Second)

		_, err := store.Read(ctx, gateKey)
		require.ErrorIs(t, err, gerrors.ErrNotFound)
		assert.Equal(t, 1, counting.reads)
	})
}

type countingStore struct {
	Store
	reads int
}

func (s *countingStore) Read(ctx context.Context, key identity.ActorKey) (*Record, error) {
	s.reads++
	return s.Store.Read(ctx, key)
}

type flakyStore struct {
	Store
	failures int
	calls    int
}

func (s *flakyStore) fail() error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("connection reset by peer")
	}
	return nil
}

func (s *flakyStore) Read(ctx context.Context, key identity.ActorKey) (*Record, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.Store.Read(ctx, key)
}

func (s *flakyStore) Write(ctx context.Context, key identity.ActorKey, state []byte, expectedVersion int64) (int64, error) {
	if err := s.fail(); err != nil {
		return 0, err
	}
	return s.Store.Write(ctx, key, state, expectedVersion)
}
