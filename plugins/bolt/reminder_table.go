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
	"slices"
	"time"

	"go.etcd.io/bbolt"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/codec"
	"github.com/jt7sku/koonti/reminder"
)

type reminderRow struct {
	ActorType string        `cbor:"1,keyasint"`
	ActorKey  string        `cbor:"2,keyasint"`
	Name      string        `cbor:"3,keyasint"`
	DueTime   int64         `cbor:"4,keyasint"`
	Period    time.Duration `cbor:"5,keyasint"`
}

func (r *reminderRow) entry() *reminder.Entry {
	return &reminder.Entry{
		Key:     identity.New(r.ActorType, r.ActorKey),
		Name:    r.Name,
		DueTime: time.Unix(0, r.DueTime).UTC(),
		Period:  r.Period,
	}
}

// ReminderTable is a reminder.Table backed by bbolt.
type ReminderTable struct {
	db *DB
}

var _ reminder.Table = (*ReminderTable)(nil)

// NewReminderTable creates a ReminderTable on db.
func NewReminderTable(db *DB) *ReminderTable {
	return &ReminderTable{db: db}
}

// Upsert implements reminder.Table.
func (t *ReminderTable) Upsert(ctx context.Context, entry *reminder.Entry) error {
	return t.db.update(ctx, func(tx *bbolt.Tx) error {
		return t.put(tx, &reminderRow{
			ActorType: entry.Key.Type,
			ActorKey:  entry.Key.Key,
			Name:      entry.Name,
			DueTime:   entry.DueTime.UnixNano(),
			Period:    entry.Period,
		})
	})
}

// Get implements reminder.Table.
func (t *ReminderTable) Get(ctx context.Context, key identity.ActorKey, name string) (*reminder.Entry, error) {
	var entry *reminder.Entry
	err := t.db.view(ctx, func(tx *bbolt.Tx) error {
		row, err := t.get(tx, key, name)
		if err != nil {
			return err
		}
		if row == nil {
			return gerrors.ErrReminderNotFound
		}
		entry = row.entry()
		return nil
	})
	return entry, err
}

// Delete implements reminder.Table.
func (t *ReminderTable) Delete(ctx context.Context, key identity.ActorKey, name string) error {
	return t.db.update(ctx, func(tx *bbolt.Tx) error {
		row, err := t.get(tx, key, name)
		if err != nil {
			return err
		}
		if row == nil {
			return gerrors.ErrReminderNotFound
		}
		b, err := bucket(tx, reminderBucket)
		if err != nil {
			return err
		}
		return b.Delete(reminderKey(key, name))
	})
}

// ListDue implements reminder.Table.
func (t *ReminderTable) ListDue(ctx context.Context, before time.Time, limit int) ([]*reminder.Entry, error) {
	var due []*reminder.Entry
	err := t.db.view(ctx, func(tx *bbolt.Tx) error {
		b, err := bucket(tx, reminderBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			row := new(reminderRow)
			if err := codec.Unmarshal(v, row); err != nil {
				return err
			}
			if row.DueTime <= before.UnixNano() {
				due = append(due, row.entry())
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(due, func(a, b *reminder.Entry) int {
		return a.DueTime.Compare(b.DueTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Reschedule implements reminder.Table.
func (t *ReminderTable) Reschedule(ctx context.Context, key identity.ActorKey, name string, expectedDue, nextDue time.Time) (bool, error) {
	moved := false
	err := t.db.update(ctx, func(tx *bbolt.Tx) error {
		row, err := t.get(tx, key, name)
		if err != nil || row == nil || row.DueTime != expectedDue.UnixNano() {
			return err
		}
		moved = true
		if nextDue.IsZero() {
			b, err := bucket(tx, reminderBucket)
			if err != nil {
				return err
			}
			return b.Delete(reminderKey(key, name))
		}
		row.DueTime = nextDue.UnixNano()
		return t.put(tx, row)
	})
	return moved && err == nil, err
}

func (t *ReminderTable) get(tx *bbolt.Tx, key identity.ActorKey, name string) (*reminderRow, error) {
	b, err := bucket(tx, reminderBucket)
	if err != nil {
		return nil, err
	}
	raw := b.Get(reminderKey(key, name))
	if raw == nil {
		return nil, nil
	}
	row := new(reminderRow)
	if err := codec.Unmarshal(raw, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (t *ReminderTable) put(tx *bbolt.Tx, row *reminderRow) error {
	b, err := bucket(tx, reminderBucket)
	if err != nil {
		return err
	}
	raw, err := codec.Marshal(row)
	if err != nil {
		return err
	}
	return b.Put(reminderKey(identity.New(row.ActorType, row.ActorKey), row.Name), raw)
}

func reminderKey(key identity.ActorKey, name string) []byte {
	return []byte(key.String() + "/" + name)
}
