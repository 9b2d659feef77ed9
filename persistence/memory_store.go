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
	"sync"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
)

// MemoryStore is an in-process Store. Silos of one process share it to
// simulate a cluster.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[identity.ActorKey]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new instance of MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[identity.ActorKey]Record)}
}

// Read implements Store.
func (s *MemoryStore) Read(ctx context.Context, key identity.ActorKey) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	if !ok {
		return nil, gerrors.ErrNotFound
	}
	return &Record{State: slices.Clone(record.State), Version: record.Version}, nil
}

// Write implements Store.
func (s *MemoryStore) Write(ctx context.Context, key identity.ActorKey, state []byte, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.records[key]
	if current.Version != expectedVersion {
		return 0, gerrors.NewErrVersionConflict(key.String(), expectedVersion, current.Version)
	}
	version := expectedVersion + 1
	s.records[key] = Record{State: slices.Clone(state), Version: version}
	return version, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key identity.ActorKey, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.records[key]
	if current.Version != expectedVersion {
		return gerrors.NewErrVersionConflict(key.String(), expectedVersion, current.Version)
	}
	delete(s.records, key)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
