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

package placement

import (
	"context"
	"sync"
	"time"
)

// Entry records which silo hosts the activation of a key.
// Generation increases by one every time ownership changes hands. A released
// entry keeps its generation with an empty SiloID, so the next owner carries
// on from it.
type Entry struct {
	Key          string
	SiloID       string
	Generation   int64
	RegisteredAt time.Time
}

// Released reports whether no silo holds the entry anymore.
func (e *Entry) Released() bool {
	return e.SiloID == ""
}

// Table is the shared activation directory storage.
type Table interface {
	// Lookup returns the entry of key, released or not. The boolean is false
	// when the key was never registered.
	Lookup(ctx context.Context, key string) (*Entry, bool, error)
	// CompareAndRegister stores entry when the current generation of its key
	// equals expectedGeneration, zero meaning absent. It reports whether the
	// entry was stored.
	CompareAndRegister(ctx context.Context, entry *Entry, expectedGeneration int64) (bool, error)
	// Unregister releases the entry of key when it still belongs to siloID at generation.
	Unregister(ctx context.Context, key, siloID string, generation int64) error
	// PurgeSilo releases every entry held by siloID and returns how many were released.
	PurgeSilo(ctx context.Context, siloID string) (int, error)
}

// MemoryTable is an in-process Table shared by silos of one process.
type MemoryTable struct {
	mu      sync.Mutex
	entries map[string]Entry
}

var _ Table = (*MemoryTable)(nil)

// NewMemoryTable creates an empty MemoryTable.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{entries: make(map[string]Entry)}
}

// Lookup implements Table.
func (t *MemoryTable) Lookup(ctx context.Context, key string) (*Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// CompareAndRegister implements Table.
func (t *MemoryTable) CompareAndRegister(ctx context.Context, entry *Entry, expectedGeneration int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.entries[entry.Key]
	switch {
	case !ok && expectedGeneration != 0:
		return false, nil
	case ok && current.Generation != expectedGeneration:
		return false, nil
	}
	t.entries[entry.Key] = *entry
	return true, nil
}

// Unregister implements Table.
func (t *MemoryTable) Unregister(ctx context.Context, key, siloID string, generation int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.entries[key]; ok && current.SiloID == siloID && current.Generation == generation {
		current.SiloID = ""
		t.entries[key] = current
	}
	return nil
}

// PurgeSilo implements Table.
func (t *MemoryTable) PurgeSilo(ctx context.Context, siloID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	released := 0
	for key, entry := range t.entries {
		if !entry.Released() && entry.SiloID == siloID {
			entry.SiloID = ""
			t.entries[key] = entry
			released++
		}
	}
	return released, nil
}
