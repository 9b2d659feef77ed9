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
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/placement"
)

type activationRow struct {
	ActorType    string    `db:"actor_type"`
	ActorKey     string    `db:"actor_key"`
	SiloID       string    `db:"silo_id"`
	Generation   int64     `db:"generation"`
	RegisteredAt time.Time `db:"registered_at"`
}

// ActivationTable is a placement.Table on the koonti_activations table.
type ActivationTable struct {
	db *DB
}

var _ placement.Table = (*ActivationTable)(nil)

// NewActivationTable creates an ActivationTable on db.
func NewActivationTable(db *DB) *ActivationTable {
	return &ActivationTable{db: db}
}

// Lookup implements placement.Table.
func (t *ActivationTable) Lookup(ctx context.Context, key string) (*placement.Entry, bool, error) {
	actorKey, err := identity.Parse(key)
	if err != nil {
		return nil, false, err
	}
	row := new(activationRow)
	found, err := t.db.selectOne(ctx, row, t.db.sb.
		Select("actor_type", "actor_key", "silo_id", "generation", "registered_at").
		From(activationTable).
		Where(byKey(actorKey)))
	if err != nil || !found {
		return nil, false, err
	}
	return &placement.Entry{
		Key:          key,
		SiloID:       row.SiloID,
		Generation:   row.Generation,
		RegisteredAt: row.RegisteredAt.UTC(),
	}, true, nil
}

// CompareAndRegister implements placement.Table.
func (t *ActivationTable) CompareAndRegister(ctx context.Context, entry *placement.Entry, expectedGeneration int64) (bool, error) {
	actorKey, err := identity.Parse(entry.Key)
	if err != nil {
		return false, err
	}

	var statement sq.Sqlizer
	if expectedGeneration == 0 {
		statement = t.db.sb.
			Insert(activationTable).
			Columns("actor_type", "actor_key", "silo_id", "generation", "registered_at").
			Values(actorKey.Type, actorKey.Key, entry.SiloID, entry.Generation, entry.RegisteredAt).
			Suffix("ON CONFLICT (actor_type, actor_key) DO NOTHING")
	} else {
		statement = t.db.sb.
			Update(activationTable).
			Set("silo_id", entry.SiloID).
			Set("generation", entry.Generation).
			Set("registered_at", entry.RegisteredAt).
			Where(byKey(actorKey)).
			Where(sq.Eq{"generation": expectedGeneration})
	}

	affected, err := t.db.exec(ctx, statement)
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Unregister implements placement.Table.
func (t *ActivationTable) Unregister(ctx context.Context, key, siloID string, generation int64) error {
	actorKey, err := identity.Parse(key)
	if err != nil {
		return err
	}
	// the row stays behind with its generation so the next owner carries on from it
	_, err = t.db.exec(ctx, t.db.sb.
		Update(activationTable).
		Set("silo_id", "").
		Where(byKey(actorKey)).
		Where(sq.Eq{"silo_id": siloID, "generation": generation}))
	return err
}

// PurgeSilo implements placement.Table.
func (t *ActivationTable) PurgeSilo(ctx context.Context, siloID string) (int, error) {
	affected, err := t.db.exec(ctx, t.db.sb.
		Update(activationTable).
		Set("silo_id", "").
		Where(sq.Eq{"silo_id": siloID}).
		Where(sq.NotEq{"silo_id": ""}))
	return int(affected), err
}
