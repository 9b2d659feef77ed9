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
	"cmp"
	"context"
	"encoding/binary"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/codec"
	"github.com/jt7sku/koonti/stream"
)

// StreamStore is a stream.Store backed by bbolt. Each topic owns a nested
// bucket of events keyed by big-endian sequence and a nested bucket of
// subscriber offsets.
type StreamStore struct {
	db *DB
}

var _ stream.Store = (*StreamStore)(nil)

// NewStreamStore creates a StreamStore on db.
func NewStreamStore(db *DB) *StreamStore {
	return &StreamStore{db: db}
}

// Append implements stream.Store.
func (s *StreamStore) Append(ctx context.Context, topic string, payload []byte) (*stream.Event, error) {
	var event *stream.Event
	err := s.db.update(ctx, func(tx *bbolt.Tx) error {
		logs, err := bucket(tx, streamLogBucket)
		if err != nil {
			return err
		}
		log, err := logs.CreateBucketIfNotExists([]byte(topic))
		if err != nil {
			return err
		}
		sequence, err := log.NextSequence()
		if err != nil {
			return err
		}
		event = &stream.Event{
			Topic:       topic,
			Sequence:    sequence,
			Payload:     slices.Clone(payload),
			PublishedAt: time.Now().UTC(),
		}
		raw, err := codec.Marshal(event)
		if err != nil {
			return err
		}
		return log.Put(itob(sequence), raw)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ReadFrom implements stream.Store.
func (s *StreamStore) ReadFrom(ctx context.Context, topic string, afterSeq uint64, limit int) ([]*stream.Event, error) {
	var events []*stream.Event
	err := s.db.view(ctx, func(tx *bbolt.Tx) error {
		logs, err := bucket(tx, streamLogBucket)
		if err != nil {
			return err
		}
		log := logs.Bucket([]byte(topic))
		if log == nil {
			return nil
		}
		cursor := log.Cursor()
		for k, v := cursor.Seek(itob(afterSeq + 1)); k != nil; k, v = cursor.Next() {
			if limit > 0 && len(events) == limit {
				break
			}
			event := new(stream.Event)
			if err := codec.Unmarshal(v, event); err != nil {
				return err
			}
			events = append(events, event)
		}
		return nil
	})
	return events, err
}

// Subscribe implements stream.Store.
func (s *StreamStore) Subscribe(ctx context.Context, topic string, key identity.ActorKey) error {
	return s.db.update(ctx, func(tx *bbolt.Tx) error {
		offsets, err := bucket(tx, streamOffsetBucket)
		if err != nil {
			return err
		}
		subscribers, err := offsets.CreateBucketIfNotExists([]byte(topic))
		if err != nil {
			return err
		}
		if subscribers.Get([]byte(key.String())) != nil {
			return nil
		}
		return subscribers.Put([]byte(key.String()), itob(0))
	})
}

// Unsubscribe implements stream.Store.
func (s *StreamStore) Unsubscribe(ctx context.Context, topic string, key identity.ActorKey) error {
	return s.db.update(ctx, func(tx *bbolt.Tx) error {
		offsets, err := bucket(tx, streamOffsetBucket)
		if err != nil {
			return err
		}
		subscribers := offsets.Bucket([]byte(topic))
		if subscribers == nil {
			return nil
		}
		if err := subscribers.Delete([]byte(key.String())); err != nil {
			return err
		}
		if k, _ := subscribers.Cursor().First(); k == nil {
			return offsets.DeleteBucket([]byte(topic))
		}
		return nil
	})
}

// Subscribers implements stream.Store.
func (s *StreamStore) Subscribers(ctx context.Context, topic string) ([]identity.ActorKey, error) {
	var keys []identity.ActorKey
	err := s.db.view(ctx, func(tx *bbolt.Tx) error {
		offsets, err := bucket(tx, streamOffsetBucket)
		if err != nil {
			return err
		}
		subscribers := offsets.Bucket([]byte(topic))
		if subscribers == nil {
			return nil
		}
		return subscribers.ForEach(func(k, _ []byte) error {
			key, err := identity.Parse(string(k))
			if err != nil {
				return err
			}
			keys = append(keys, key)
			return nil
		})
	})
	slices.SortFunc(keys, func(a, b identity.ActorKey) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Key, b.Key))
	})
	return keys, err
}

// Topics implements stream.Store.
func (s *StreamStore) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	err := s.db.view(ctx, func(tx *bbolt.Tx) error {
		offsets, err := bucket(tx, streamOffsetBucket)
		if err != nil {
			return err
		}
		// nested buckets are reported with a nil value
		return offsets.ForEach(func(k, v []byte) error {
			if v == nil {
				topics = append(topics, string(k))
			}
			return nil
		})
	})
	return topics, err
}

// Offset implements stream.Store.
func (s *StreamStore) Offset(ctx context.Context, topic string, key identity.ActorKey) (uint64, error) {
	var offset uint64
	err := s.db.view(ctx, func(tx *bbolt.Tx) error {
		offsets, err := bucket(tx, streamOffsetBucket)
		if err != nil {
			return err
		}
		if subscribers := offsets.Bucket([]byte(topic)); subscribers != nil {
			if raw := subscribers.Get([]byte(key.String())); raw != nil {
				offset = binary.BigEndian.Uint64(raw)
			}
		}
		return nil
	})
	return offset, err
}

// Commit implements stream.Store.
func (s *StreamStore) Commit(ctx context.Context, topic string, key identity.ActorKey, sequence uint64) error {
	return s.db.update(ctx, func(tx *bbolt.Tx) error {
		offsets, err := bucket(tx, streamOffsetBucket)
		if err != nil {
			return err
		}
		subscribers := offsets.Bucket([]byte(topic))
		if subscribers == nil {
			return nil
		}
		raw := subscribers.Get([]byte(key.String()))
		if raw == nil || binary.BigEndian.Uint64(raw) >= sequence {
			return nil
		}
		return subscribers.Put([]byte(key.String()), itob(sequence))
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
