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

// Package bolt keeps every shared table of a single-host cluster in one
// bbolt file. Silos of the same process share the DB handle.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/atomic"

	gerrors "github.com/jt7sku/koonti/errors"
)

const (
	fileMode os.FileMode = 0o600

	stateBucket       = "actor_state"
	membershipBucket  = "membership"
	activationBucket  = "activations"
	reminderBucket    = "reminders"
	streamLogBucket   = "stream_logs"
	streamOffsetBucket = "stream_offsets"
)

var (
	openTimeout    = 5 * time.Second
	defaultOptions = &bbolt.Options{Timeout: openTimeout, NoGrowSync: true}
	buckets        = []string{stateBucket, membershipBucket, activationBucket, reminderBucket, streamLogBucket, streamOffsetBucket}
)

// DB is an open bbolt database holding the cluster tables.
type DB struct {
	db     *bbolt.DB
	path   string
	closed *atomic.Bool
}

// Open opens (or creates) the database at path and its buckets.
func Open(path string) (*DB, error) {
	options := *defaultOptions
	db, err := bbolt.Open(path, fileMode, &options)
	if err != nil {
		return nil, fmt.Errorf("bolt: opening %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: initializing buckets: %w", err)
	}

	return &DB{db: db, path: path, closed: atomic.NewBool(false)}, nil
}

// Path returns the database file.
func (d *DB) Path() string {
	return d.path
}

// Close releases the database handle. The file is kept.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}

func (d *DB) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := d.ensureOpen(ctx); err != nil {
		return err
	}
	return d.db.Update(fn)
}

func (d *DB) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := d.ensureOpen(ctx); err != nil {
		return err
	}
	return d.db.View(fn)
}

func (d *DB) ensureOpen(ctx context.Context) error {
	if d.closed.Load() {
		return gerrors.ErrClosed
	}
	return ctx.Err()
}

func bucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, errors.New("bolt: bucket " + name + " missing")
	}
	return b, nil
}
