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

	sq "github.com/Masterminds/squirrel"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/persistence"
)

type stateRow struct {
	Payload []byte `db:"payload"`
	Version int64  `db:"version"`
}

// StateStore is a persistence.Store on the koonti_actor_state table.
type StateStore struct {
	db *DB
}

var _ persistence.Store = (*StateStore)(nil)

// NewStateStore creates a StateStore on db.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Read implements persistence.Store.
func (s *StateStore) Read(ctx context.Context, key identity.ActorKey) (*persistence.Record, error) {
	row := new(stateRow)
	found, err := s.db.selectOne(ctx, row, s.db.sb.
		Select("payload", "version").
		From(stateTable).
		Where(byKey(key)))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gerrors.ErrNotFound
	}
	return &persistence.Record{State: row.Payload, Version: row.Version}, nil
}

// Write implements persistence.Store.
func (s *StateStore) Write(ctx context.Context, key identity.ActorKey, state []byte, expectedVersion int64) (int64, error) {
	var statement sq.Sqlizer
	if expectedVersion == 0 {
		statement = s.db.sb.
			Insert(stateTable).
			Columns("actor_type", "actor_key", "payload", "version", "updated_at").
			Values(key.Type, key.Key, state, 1, sq.Expr("now()")).
			Suffix("ON CONFLICT (actor_type, actor_key) DO NOTHING")
	} else {
		statement = s.db.sb.
			Update(stateTable).
			Set("payload", state).
			Set("version", expectedVersion+1).
			Set("updated_at", sq.Expr("now()")).
			Where(byKey(key)).
			Where(sq.Eq{"version": expectedVersion})
	}

	affected, err := s.db.exec(ctx, statement)
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, s.conflict(ctx, key, expectedVersion)
	}
	return expectedVersion + 1, nil
}

// Delete implements persistence.Store.
func (s *StateStore) Delete(ctx context.Context, key identity.ActorKey, expectedVersion int64) error {
	if expectedVersion == 0 {
		current, err := s.version(ctx, key)
		if err != nil {
			return err
		}
		if current != 0 {
			return gerrors.NewErrVersionConflict(key.String(), 0, current)
		}
		return nil
	}

	affected, err := s.db.exec(ctx, s.db.sb.
		Delete(stateTable).
		Where(byKey(key)).
		Where(sq.Eq{"version": expectedVersion}))
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.conflict(ctx, key, expectedVersion)
	}
	return nil
}

func (s *StateStore) conflict(ctx context.Context, key identity.ActorKey, expectedVersion int64) error {
	current, err := s.version(ctx, key)
	if err != nil {
		return err
	}
	return gerrors.NewErrVersionConflict(key.String(), expectedVersion, current)
}

func (s *StateStore) version(ctx context.Context, key identity.ActorKey) (int64, error) {
	row := new(stateRow)
	if _, err := s.db.selectOne(ctx, row, s.db.sb.
		Select("version").
		From(stateTable).
		Where(byKey(key))); err != nil {
		return 0, err
	}
	return row.Version, nil
}

func byKey(key identity.ActorKey) sq.Eq {
	return sq.Eq{"actor_type": key.Type, "actor_key": key.Key}
}
