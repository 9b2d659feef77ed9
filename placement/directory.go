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
	"time"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/log"
)

const maxRegisterAttempts = 5

// Liveness reports whether a silo is still a cluster member.
type Liveness interface {
	IsAlive(siloID string) bool
}

// Directory is the explicit activation registry. Registration is a
// compare-and-set on the entry generation, so two silos racing for the same
// key always agree on a single winner.
type Directory struct {
	table    Table
	liveness Liveness
	logger   log.Logger
}

// NewDirectory creates a Directory over table.
func NewDirectory(table Table, liveness Liveness, logger log.Logger) *Directory {
	if logger == nil {
		logger = log.DiscardLogger
	}
	return &Directory{table: table, liveness: liveness, logger: logger}
}

// Register claims key for siloID and returns the winning entry.
//
// An absent key is claimed at generation 1. A released key, or one held by
// a dead silo, is taken over at the next generation. A key held by a live silo is returned
// untouched and the caller must forward to that silo. A silo that is not a
// live member cannot claim anything.
func (d *Directory) Register(ctx context.Context, key, siloID string) (*Entry, error) {
	if !d.liveness.IsAlive(siloID) {
		return nil, gerrors.ErrSiloNotRunning
	}

	for range maxRegisterAttempts {
		current, found, err := d.table.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}

		if found && !current.Released() && (current.SiloID == siloID || d.liveness.IsAlive(current.SiloID)) {
			return current, nil
		}

		var expected int64
		if found {
			expected = current.Generation
			if !current.Released() {
				d.logger.Infof("taking over key (%s) from dead silo (%s)", key, current.SiloID)
			}
		}

		candidate := &Entry{
			Key:          key,
			SiloID:       siloID,
			Generation:   expected + 1,
			RegisteredAt: time.Now(),
		}

		stored, err := d.table.CompareAndRegister(ctx, candidate, expected)
		if err != nil {
			return nil, err
		}
		if stored {
			return candidate, nil
		}
		// another silo won the race, read its entry on the next attempt
	}
	return nil, gerrors.ErrVersionConflict
}

// Lookup returns the entry of key when it is held by a live silo.
func (d *Directory) Lookup(ctx context.Context, key string) (*Entry, bool, error) {
	entry, found, err := d.table.Lookup(ctx, key)
	if err != nil || !found || entry.Released() {
		return nil, false, err
	}
	if !d.liveness.IsAlive(entry.SiloID) {
		return nil, false, nil
	}
	return entry, true, nil
}

// Unregister releases entry. Entries already taken over are left untouched.
func (d *Directory) Unregister(ctx context.Context, entry *Entry) error {
	return d.table.Unregister(ctx, entry.Key, entry.SiloID, entry.Generation)
}

// PurgeSilo releases the entries of a dead silo.
func (d *Directory) PurgeSilo(ctx context.Context, siloID string) error {
	released, err := d.table.PurgeSilo(ctx, siloID)
	if err != nil {
		return err
	}
	if released > 0 {
		d.logger.Infof("released %d activation entries of dead silo (%s)", released, siloID)
	}
	return nil
}
