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

package cmd

import (
	"context"
	"strings"

	"github.com/jt7sku/koonti/plugins/bolt"
	"github.com/jt7sku/koonti/plugins/postgres"
	"github.com/jt7sku/koonti/plugins/redis"
	"github.com/jt7sku/koonti/silo"
)

const boltScheme = "bolt://"

// openBackend picks the tables named by the storage connection string: a
// postgres URL, a bolt file, or the in-process tables when it is empty.
// A non-empty redisURL moves the actor state to redis.
func openBackend(ctx context.Context, connectionString, redisURL string) (*silo.Backend, func() error, error) {
	var (
		backend *silo.Backend
		closers []func() error
	)

	switch {
	case connectionString == "":
		backend = silo.NewMemoryBackend()
	case strings.HasPrefix(connectionString, "postgres://"), strings.HasPrefix(connectionString, "postgresql://"):
		db, err := postgres.Connect(ctx, connectionString)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		backend = silo.NewPostgresBackend(db)
		closers = append(closers, func() error {
			db.Close()
			return nil
		})
	default:
		db, err := bolt.Open(strings.TrimPrefix(connectionString, boltScheme))
		if err != nil {
			return nil, nil, err
		}
		backend = silo.NewBoltBackend(db)
		closers = append(closers, db.Close)
	}

	if redisURL != "" {
		client, err := redis.Connect(ctx, redisURL)
		if err != nil {
			return nil, nil, closeAll(closers, err)
		}
		backend.State = redis.NewStateStore(client)
		closers = append(closers, client.Close)
	}

	return backend, func() error { return closeAll(closers, nil) }, nil
}

func closeAll(closers []func() error, err error) error {
	for i := len(closers) - 1; i >= 0; i-- {
		if closeErr := closers[i](); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
