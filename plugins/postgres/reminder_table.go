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

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/reminder"
)

type reminderRow struct {
	ActorType string    `db:"actor_type"`
	ActorKey  string    `db:"actor_key"`
	Name      string    `db:"name"`
	DueTime   time.Time `db:"due_time"`
	PeriodMs  int64     `db:"period_ms"`
}

func (r *reminderRow) entry() *reminder.Entry {
	return &reminder.Entry{
		Key:     identity.New(r.ActorType, r.ActorKey),
		Name:    r.Name,
		DueTime: r.DueTime.UTC(),
		Period:  time.Duration(r.PeriodMs) * time.Millisecond,
	}
}

// ReminderTable is a reminder.Table on the koonti_reminders table.
// Due times are kept with the microsecond precision of the database.
type ReminderTable struct {
	db *DB
}

var _ reminder.Table = (*ReminderTable)(nil)

// NewReminderTable creates a ReminderTable on db.
func NewReminderTable(db *DB) *ReminderTable {
	return &ReminderTable{db: db}
}

// Upsert implements reminder.Table.
func (t *ReminderTable) Upsert(ctx context.Context, entry *reminder.Entry) error {
	_, err := t.db.exec(ctx, t.db.sb.
		Insert(reminderTable).
		Columns("actor_type", "actor_key", "name", "due_time", "period_ms").
		Values(entry.Key.Type, entry.Key.Key, entry.Name, entry.DueTime, entry.Period.Milliseconds()).
		Suffix("ON CONFLICT (actor_type, actor_key, name) DO UPDATE SET due_time = EXCLUDED.due_time, period_ms = EXCLUDED.period_ms"))
	return err
}

// Get implements reminder.Table.
func (t *ReminderTable) Get(ctx context.Context, key identity.ActorKey, name string) (*reminder.Entry, error) {
	row := new(reminderRow)
	found, err := t.db.selectOne(ctx, row, t.db.sb.
		Select("actor_type", "actor_key", "name", "due_time", "period_ms").
		From(reminderTable).
		Where(byReminder(key, name)))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gerrors.ErrReminderNotFound
	}
	return row.entry(), nil
}

// Delete implements reminder.Table.
func (t *ReminderTable) Delete(ctx context.Context, key identity.ActorKey, name string) error {
	affected, err := t.db.exec(ctx, t.db.sb.
		Delete(reminderTable).
		Where(byReminder(key, name)))
	if err != nil {
		return err
	}
	if affected == 0 {
		return gerrors.ErrReminderNotFound
	}
	return nil
}

// ListDue implements reminder.Table.
func (t *ReminderTable) ListDue(ctx context.Context, before time.Time, limit int) ([]*reminder.Entry, error) {
	statement := t.db.sb.
		Select("actor_type", "actor_key", "name", "due_time", "period_ms").
		From(reminderTable).
		Where(sq.LtOrEq{"due_time": before}).
		OrderBy("due_time", "actor_type", "actor_key", "name")
	if limit > 0 {
		statement = statement.Limit(uint64(limit))
	}

	var rows []*reminderRow
	if err := t.db.selectAll(ctx, &rows, statement); err != nil {
		return nil, err
	}
	entries := make([]*reminder.Entry, len(rows))
	for index, row := range rows {
		entries[index] = row.entry()
	}
	return entries, nil
}

// Reschedule implements reminder.Table.
func (t *ReminderTable) Reschedule(ctx context.Context, key identity.ActorKey, name string, expectedDue, nextDue time.Time) (bool, error) {
	var statement sq.Sqlizer
	if nextDue.IsZero() {
		statement = t.db.sb.
			Delete(reminderTable).
			Where(byReminder(key, name)).
			Where(sq.Eq{"due_time": expectedDue})
	} else {
		statement = t.db.sb.
			Update(reminderTable).
			Set("due_time", nextDue).
			Where(byReminder(key, name)).
			Where(sq.Eq{"due_time": expectedDue})
	}
	affected, err := t.db.exec(ctx, statement)
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func byReminder(key identity.ActorKey, name string) sq.Eq {
	return sq.Eq{"actor_type": key.Type, "actor_key": key.Key, "name": name}
}
