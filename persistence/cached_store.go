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
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jt7sku/koonti/identity"
)

// CachedStore serves reads from a bounded LRU cache and writes through to
// the underlying Store. A version conflict evicts the cached record so the
// next read sees what the other writer stored.
type CachedStore struct {
	underlying Store
	cache      *lru.Cache[identity.ActorKey, Record]
}

var (
	_ Store       = (*CachedStore)(nil)
	_ Invalidator = (*CachedStore)(nil)
)

// NewCachedStore wraps store with a cache of size records.
func NewCachedStore(store Store, size int) (*CachedStore, error) {
	cache, err := lru.New[identity.ActorKey, Record](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{underlying: store, cache: cache}, nil
}

// Read implements Store.
func (s *CachedStore) Read(ctx context.Context, key identity.ActorKey) (*Record, error) {
	if record, ok := s.cache.Get(key); ok {
		return &Record{State: slices.Clone(record.State), Version: record.Version}, nil
	}

	record, err := s.underlying.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, Record{State: slices.Clone(record.State), Version: record.Version})
	return record, nil
}

// Write implements Store.
func (s *CachedStore) Write(ctx context.Context, key identity.ActorKey, state []byte, expectedVersion int64) (int64, error) {
	version, err := s.underlying.Write(ctx, key, state, expectedVersion)
	if err != nil {
		s.cache.Remove(key)
		return 0, err
	}
	s.cache.Add(key, Record{State: slices.Clone(state), Version: version})
	return version, nil
}

// Delete implements Store.
func (s *CachedStore) Delete(ctx context.Context, key identity.ActorKey, expectedVersion int64) error {
	s.cache.Remove(key)
	return s.underlying.Delete(ctx, key, expectedVersion)
}

// Invalidate drops key from the cache.
func (s *CachedStore) Invalidate(key identity.ActorKey) {
	s.cache.Remove(key)
}
