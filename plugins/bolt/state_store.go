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

package bolt

import (
	"context"

	"go.etcd.io/bbolt"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/codec"
	"github.com/jt7sku/koonti/persistence"
)

type stateRow struct {
	State   []byte `cbor:"1,keyasint"`
	Version int64  `cbor:"2,keyasint"`
}

// StateStore is a persistence.Store backed by bbolt.
type StateStore struct {
	db *DB
}

var _ persistence.Store = (*StateStore)(nil)

// NewStateStore creates a StateStore on db.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Read implements persistence.Store.
func (s *StateStore) Read(ctx context.Context, key identity.ActorKey) (*persistence.Record, error) {
	var record *persistence.Record
	err := s.db.view(ctx, func(tx *bbolt.Tx) error {
		row, err := s.row(tx, key)
		if err != nil {
			return err
		}
		if row == nil {
			return gerrors.ErrNotFound
		}
		record = &persistence.Record{State: row.State, Version: row.Version}
		return nil
	})
	return record, err
}

// Write implements persistence.Store.
func (s *StateStore) Write(ctx context.Context, key identity.ActorKey, state []byte, expectedVersion int64) (int64, error) {
	var version int64
	err := s.db.update(ctx, func(tx *bbolt.Tx) error {
		row, err := s.row(tx, key)
		if err != nil {
			return err
		}
		current := int64(0)
		if row != nil {
			current = row.Version
		}
		if current != expectedVersion {
			return gerrors.NewErrVersionConflict(key.String(), expectedVersion, current)
		}

		version = expectedVersion + 1
		raw, err := codec.Marshal(&stateRow{State: state, Version: version})
		if err != nil {
			return err
		}
		b, err := bucket(tx, stateBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key.String()), raw)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Delete implements persistence.Store.
func (s *StateStore) Delete(ctx context.Context, key identity.ActorKey, expectedVersion int64) error {
	return s.db.update(ctx, func(tx *bbolt.Tx) error {
		row, err := s.row(tx, key)
		if err != nil {
			return err
		}
		current := int64(0)
		if row != nil {
			current = row.Version
		}
		if current != expectedVersion {
			return gerrors.NewErrVersionConflict(key.String(), expectedVersion, current)
		}
		if row == nil {
			return nil
		}
		b, err := bucket(tx, stateBucket)
		if err != nil {
			return err
		}
		return b.Delete([]byte(key.String()))
	})
}

// row returns nil when key has no state. The returned bytes are copies.
func (s *StateStore) row(tx *bbolt.Tx, key identity.ActorKey) (*stateRow, error) {
	b, err := bucket(tx, stateBucket)
	if err != nil {
		return nil, err
	}
	raw := b.Get([]byte(key.String()))
	if raw == nil {
		return nil, nil
	}
	row := new(stateRow)
	if err := codec.Unmarshal(raw, row); err != nil {
		return nil, gerrors.NewErrCorruptedState(key.String(), err)
	}
	return row, nil
}
