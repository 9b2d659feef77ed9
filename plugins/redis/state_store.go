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

// Package redis keeps actor state in Redis hashes guarded by optimistic
// transactions.
package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/persistence"
)

const (
	keyPrefix     = "koonti:state:"
	payloadField  = "payload"
	versionField  = "version"
	maxTxAttempts = 3
)

// StateStore is a persistence.Store on Redis. Each actor owns a hash with
// its payload and version; writes run under WATCH so a concurrent writer
// aborts the transaction.
type StateStore struct {
	client redis.UniversalClient
}

var _ persistence.Store = (*StateStore)(nil)

// NewStateStore creates a StateStore using client.
func NewStateStore(client redis.UniversalClient) *StateStore {
	return &StateStore{client: client}
}

// Connect creates a client from a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Read implements persistence.Store.
func (s *StateStore) Read(ctx context.Context, key identity.ActorKey) (*persistence.Record, error) {
	values, err := s.client.HMGet(ctx, redisKey(key), payloadField, versionField).Result()
	if err != nil {
		return nil, err
	}
	if values[0] == nil || values[1] == nil {
		return nil, gerrors.ErrNotFound
	}
	version, err := strconv.ParseInt(values[1].(string), 10, 64)
	if err != nil {
		return nil, gerrors.NewErrCorruptedState(key.String(), err)
	}
	return &persistence.Record{State: []byte(values[0].(string)), Version: version}, nil
}

// Write implements persistence.Store.
func (s *StateStore) Write(ctx context.Context, key identity.ActorKey, state []byte, expectedVersion int64) (int64, error) {
	version := expectedVersion + 1
	err := s.transaction(ctx, key, expectedVersion, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, redisKey(key), payloadField, state, versionField, version)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Delete implements persistence.Store.
func (s *StateStore) Delete(ctx context.Context, key identity.ActorKey, expectedVersion int64) error {
	return s.transaction(ctx, key, expectedVersion, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, redisKey(key))
	})
}

// transaction applies queue when the stored version equals expectedVersion.
// Aborted transactions are retried a few times before reporting a conflict.
func (s *StateStore) transaction(ctx context.Context, key identity.ActorKey, expectedVersion int64, queue func(redis.Pipeliner)) error {
	redisKey := redisKey(key)
	apply := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, redisKey, versionField).Int64()
		switch {
		case errors.Is(err, redis.Nil):
			current = 0
		case err != nil:
			return err
		}
		if current != expectedVersion {
			return gerrors.NewErrVersionConflict(key.String(), expectedVersion, current)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			queue(pipe)
			return nil
		})
		return err
	}

	for range maxTxAttempts {
		err := s.client.Watch(ctx, apply, redisKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return gerrors.NewErrVersionConflict(key.String(), expectedVersion, -1)
}

func redisKey(key identity.ActorKey) string {
	return keyPrefix + key.String()
}
