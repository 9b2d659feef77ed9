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

	"github.com/jt7sku/koonti/internal/codec"
	"github.com/jt7sku/koonti/placement"
)

// ActivationTable is a placement.Table backed by bbolt.
type ActivationTable struct {
	db *DB
}

var _ placement.Table = (*ActivationTable)(nil)

// NewActivationTable creates an ActivationTable on db.
func NewActivationTable(db *DB) *ActivationTable {
	return &ActivationTable{db: db}
}

// Lookup implements placement.Table.
func (t *ActivationTable) Lookup(ctx context.Context, key string) (*placement.Entry, bool, error) {
	var entry *placement.Entry
	err := t.db.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		entry, err = t.get(tx, key)
		return err
	})
	return entry, entry != nil, err
}

// CompareAndRegister implements placement.Table.
func (t *ActivationTable) CompareAndRegister(ctx context.Context, entry *placement.Entry, expectedGeneration int64) (bool, error) {
	stored := false
	err := t.db.update(ctx, func(tx *bbolt.Tx) error {
		current, err := t.get(tx, entry.Key)
		if err != nil {
			return err
		}
		generation := int64(0)
		if current != nil {
			generation = current.Generation
		}
		if generation != expectedGeneration {
			return nil
		}
		if err := t.put(tx, entry); err != nil {
			return err
		}
		stored = true
		return nil
	})
	return stored, err
}

// Unregister implements placement.Table.
func (t *ActivationTable) Unregister(ctx context.Context, key, siloID string, generation int64) error {
	return t.db.update(ctx, func(tx *bbolt.Tx) error {
		current, err := t.get(tx, key)
		if err != nil || current == nil {
			return err
		}
		if current.SiloID != siloID || current.Generation != generation {
			return nil
		}
		current.SiloID = ""
		return t.put(tx, current)
	})
}

// PurgeSilo implements placement.Table.
func (t *ActivationTable) PurgeSilo(ctx context.Context, siloID string) (int, error) {
	released := 0
	err := t.db.update(ctx, func(tx *bbolt.Tx) error {
		b, err := bucket(tx, activationBucket)
		if err != nil {
			return err
		}
		var held []*placement.Entry
		if err := b.ForEach(func(_, v []byte) error {
			entry := new(placement.Entry)
			if err := codec.Unmarshal(v, entry); err != nil {
				return err
			}
			if !entry.Released() && entry.SiloID == siloID {
				held = append(held, entry)
			}
			return nil
		}); err != nil {
			return err
		}
		// the bucket cannot be modified while iterating
		for _, entry := range held {
			entry.SiloID = ""
			if err := t.put(tx, entry); err != nil {
				return err
			}
		}
		released = len(held)
		return nil
	})
	return released, err
}

func (t *ActivationTable) put(tx *bbolt.Tx, entry *placement.Entry) error {
	raw, err := codec.Marshal(entry)
	if err != nil {
		return err
	}
	b, err := bucket(tx, activationBucket)
	if err != nil {
		return err
	}
	return b.Put([]byte(entry.Key), raw)
}

func (t *ActivationTable) get(tx *bbolt.Tx, key string) (*placement.Entry, error) {
	b, err := bucket(tx, activationBucket)
	if err != nil {
		return nil, err
	}
	raw := b.Get([]byte(key))
	if raw == nil {
		return nil, nil
	}
	entry := new(placement.Entry)
	if err := codec.Unmarshal(raw, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
