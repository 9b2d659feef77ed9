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

package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/stream"
)

type eventRow struct {
	Topic       string    `db:"topic"`
	Sequence    int64     `db:"sequence"`
	Payload     []byte    `db:"payload"`
	PublishedAt time.Time `db:"published_at"`
}

type subscriberRow struct {
	ActorType string `db:"actor_type"`
	ActorKey  string `db:"actor_key"`
	Sequence  int64  `db:"sequence"`
}

// StreamStore is a stream.Store on the koonti_stream_* tables. Sequences
// come from a per-topic counter row so concurrent publishers never collide.
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
	if !s.db.connected.Load() {
		return nil, gerrors.ErrClosed
	}

	counter, counterArgs, err := s.db.sb.
		Insert(topicTable).
		Columns("topic", "last_sequence").
		Values(topic, 1).
		Suffix("ON CONFLICT (topic) DO UPDATE SET last_sequence = koonti_stream_topics.last_sequence + 1 RETURNING last_sequence").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to build the sql statement: %w", err)
	}

	event := &stream.Event{Topic: topic, Payload: payload, PublishedAt: time.Now().UTC().Truncate(time.Microsecond)}
	err = pgx.BeginFunc(ctx, s.db.pool, func(tx pgx.Tx) error {
		var sequence int64
		if err := tx.QueryRow(ctx, counter, counterArgs...).Scan(&sequence); err != nil {
			return err
		}
		event.Sequence = uint64(sequence)

		query, args, err := s.db.sb.
			Insert(eventTable).
			Columns("topic", "sequence", "payload", "published_at").
			Values(topic, sequence, payload, event.PublishedAt).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ReadFrom implements stream.Store.
func (s *StreamStore) ReadFrom(ctx context.Context, topic string, afterSeq uint64, limit int) ([]*stream.Event, error) {
	statement := s.db.sb.
		Select("topic", "sequence", "payload", "published_at").
		From(eventTable).
		Where(sq.Eq{"topic": topic}).
		Where(sq.Gt{"sequence": int64(afterSeq)}).
		OrderBy("sequence")
	if limit > 0 {
		statement = statement.Limit(uint64(limit))
	}

	var rows []*eventRow
	if err := s.db.selectAll(ctx, &rows, statement); err != nil {
		return nil, err
	}
	events := make([]*stream.Event, len(rows))
	for index, row := range rows {
		events[index] = &stream.Event{
			Topic:       row.Topic,
			Sequence:    uint64(row.Sequence),
			Payload:     row.Payload,
			PublishedAt: row.PublishedAt.UTC(),
		}
	}
	return events, nil
}

// Subscribe implements stream.Store.
func (s *StreamStore) Subscribe(ctx context.Context, topic string, key identity.ActorKey) error {
	_, err := s.db.exec(ctx, s.db.sb.
		Insert(offsetTable).
		Columns("topic", "actor_type", "actor_key", "sequence").
		Values(topic, key.Type, key.Key, 0).
		Suffix("ON CONFLICT (topic, actor_type, actor_key) DO NOTHING"))
	return err
}

// Unsubscribe implements stream.Store.
func (s *StreamStore) Unsubscribe(ctx context.Context, topic string, key identity.ActorKey) error {
	_, err := s.db.exec(ctx, s.db.sb.
		Delete(offsetTable).
		Where(bySubscriber(topic, key)))
	return err
}

// Subscribers implements stream.Store.
func (s *StreamStore) Subscribers(ctx context.Context, topic string) ([]identity.ActorKey, error) {
	var rows []*subscriberRow
	if err := s.db.selectAll(ctx, &rows, s.db.sb.
		Select("actor_type", "actor_key").
		From(offsetTable).
		Where(sq.Eq{"topic": topic}).
		OrderBy("actor_type", "actor_key")); err != nil {
		return nil, err
	}
	keys := make([]identity.ActorKey, len(rows))
	for index, row := range rows {
		keys[index] = identity.New(row.ActorType, row.ActorKey)
	}
	return keys, nil
}

// Topics implements stream.Store.
func (s *StreamStore) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	if err := s.db.selectAll(ctx, &topics, s.db.sb.
		Select("topic").
		Distinct().
		From(offsetTable).
		OrderBy("topic")); err != nil {
		return nil, err
	}
	return topics, nil
}

// Offset implements stream.Store.
func (s *StreamStore) Offset(ctx context.Context, topic string, key identity.ActorKey) (uint64, error) {
	row := new(subscriberRow)
	if _, err := s.db.selectOne(ctx, row, s.db.sb.
		Select("sequence").
		From(offsetTable).
		Where(bySubscriber(topic, key))); err != nil {
		return 0, err
	}
	return uint64(row.Sequence), nil
}

// Commit implements stream.Store.
func (s *StreamStore) Commit(ctx context.Context, topic string, key identity.ActorKey, sequence uint64) error {
	_, err := s.db.exec(ctx, s.db.sb.
		Update(offsetTable).
		Set("sequence", int64(sequence)).
		Where(bySubscriber(topic, key)).
		Where(sq.Lt{"sequence": int64(sequence)}))
	return err
}

func bySubscriber(topic string, key identity.ActorKey) sq.Eq {
	return sq.Eq{"topic": topic, "actor_type": key.Type, "actor_key": key.Key}
}
