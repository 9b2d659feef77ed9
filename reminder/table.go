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

package reminder

import (
	"context"
	"slices"
	"sync"
	"time"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
)

// Table is the durable storage of reminders shared by the silos.
type Table interface {
	// Upsert creates or replaces a reminder.
	Upsert(ctx context.Context, entry *Entry) error
	// Get returns a reminder or ErrReminderNotFound.
	Get(ctx context.Context, key identity.ActorKey, name string) (*Entry, error)
	// Delete removes a reminder or returns ErrReminderNotFound.
	Delete(ctx context.Context, key identity.ActorKey, name string) error
	// ListDue returns at most limit reminders due before the given time,
	// earliest first.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Entry, error)
	// Reschedule moves a reminder still due at expectedDue to nextDue and
	// reports whether it did. A zero nextDue removes the reminder.
	Reschedule(ctx context.Context, key identity.ActorKey, name string, expectedDue, nextDue time.Time) (bool, error)
}

type entryID struct {
	key  identity.ActorKey
	name string
}

// MemoryTable is an in-process Table.
type MemoryTable struct {
	mu      sync.Mutex
	entries map[entryID]Entry
}

var _ Table = (*MemoryTable)(nil)

// NewMemoryTable creates an empty MemoryTable.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{entries: make(map[entryID]Entry)}
}

// Upsert implements Table.
func (t *MemoryTable) Upsert(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.entries[entryID{entry.Key, entry.Name}] = *entry
	t.mu.Unlock()
	return nil
}

// Get implements Table.
func (t *MemoryTable) Get(ctx context.Context, key identity.ActorKey, name string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[entryID{key, name}]
	if !ok {
		return nil, gerrors.ErrReminderNotFound
	}
	return &entry, nil
}

// Delete implements Table.
func (t *MemoryTable) Delete(ctx context.Context, key identity.ActorKey, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := entryID{key, name}
	if _, ok := t.entries[id]; !ok {
		return gerrors.ErrReminderNotFound
	}
	delete(t.entries, id)
	return nil
}

// ListDue implements Table.
func (t *MemoryTable) ListDue(ctx context.Context, before time.Time, limit int) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	due := make([]*Entry, 0)
	for _, entry := range t.entries {
		if !entry.DueTime.After(before) {
			due = append(due, &entry)
		}
	}
	t.mu.Unlock()

	slices.SortFunc(due, func(a, b *Entry) int {
		return a.DueTime.Compare(b.DueTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Reschedule implements Table.
func (t *MemoryTable) Reschedule(ctx context.Context, key identity.ActorKey, name string, expectedDue, nextDue time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := entryID{key, name}
	entry, ok := t.entries[id]
	if !ok || !entry.DueTime.Equal(expectedDue) {
		return false, nil
	}
	if nextDue.IsZero() {
		delete(t.entries, id)
		return true, nil
	}
	entry.DueTime = nextDue
	t.entries[id] = entry
	return true, nil
}
