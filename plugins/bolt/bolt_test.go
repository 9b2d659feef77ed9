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
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/membership"
	"github.com/jt7sku/koonti/placement"
	"github.com/jt7sku/koonti/reminder"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "koonti.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestStateStore(t *testing.T) {
	ctx := context.Background()
	key := identity.NewSingleton("SmartGate")

	t.Run("With optimistic versions", func(t *testing.T) {
		store := NewStateStore(openDB(t))

		_, err := store.Read(ctx, key)
		require.ErrorIs(t, err, gerrors.ErrNotFound)

		version, err := store.Write(ctx, key, []byte("v1"), 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1, version)

		_, err = store.Write(ctx, key, []byte("stale"), 0)
		require.ErrorIs(t, err, gerrors.ErrVersionConflict)

		version, err = store.Write(ctx, key, []byte("v2"), 1)
		require.NoError(t, err)
		assert.EqualValues(t, 2, version)

		record, err := store.Read(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(record.State))
		assert.EqualValues(t, 2, record.Version)

		require.ErrorIs(t, store.Delete(ctx, key, 1), gerrors.ErrVersionConflict)
		require.NoError(t, store.Delete(ctx, key, 2))
		require.NoError(t, store.Delete(ctx, key, 0))
		_, err = store.Read(ctx, key)
		require.ErrorIs(t, err, gerrors.ErrNotFound)
	})

	t.Run("With a single concurrent winner", func(t *testing.T) {
		store := NewStateStore(openDB(t))
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Write(ctx, key, []byte("x"), 0); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("With state surviving a reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "koonti.db")
		db, err := Open(path)
		require.NoError(t, err)
		_, err = NewStateStore(db).Write(ctx, key, []byte("durable"), 0)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		_, err = NewStateStore(db).Read(ctx, key)
		require.ErrorIs(t, err, gerrors.ErrClosed)

		db, err = Open(path)
		require.NoError(t, err)
		defer db.Close()
		record, err := NewStateStore(db).Read(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "durable", string(record.State))
	})
}

func TestMembershipTable(t *testing.T) {
	ctx := context.Background()
	table := NewMembershipTable(openDB(t))
	now := time.Now().UTC()

	record := &membership.SiloRecord{
		ClusterID:     "Kluster",
		SiloID:        "silo-1",
		Address:       "127.0.0.1:11111",
		Status:        membership.Joining,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	require.NoError(t, table.Insert(ctx, record))
	assert.EqualValues(t, 1, record.Version)
	require.ErrorIs(t, table.Insert(ctx, record), gerrors.ErrSiloAlreadyExists)
	require.NoError(t, table.Insert(ctx, &membership.SiloRecord{ClusterID: "Other", SiloID: "silo-9"}))

	record.Status = membership.Active
	require.NoError(t, table.Update(ctx, record, 1))
	assert.EqualValues(t, 2, record.Version)
	require.ErrorIs(t, table.Update(ctx, record, 1), gerrors.ErrVersionConflict)

	later := now.Add(time.Second)
	require.NoError(t, table.Heartbeat(ctx, "Kluster", "silo-1", later))
	require.NoError(t, table.Heartbeat(ctx, "Kluster", "silo-1", now))

	stored, err := table.Read(ctx, "Kluster", "silo-1")
	require.NoError(t, err)
	assert.Equal(t, membership.Active, stored.Status)
	assert.EqualValues(t, 2, stored.Version)
	assert.True(t, stored.LastHeartbeat.Equal(later))

	records, err := table.ReadAll(ctx, "Kluster")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "silo-1", records[0].SiloID)

	require.NoError(t, table.Delete(ctx, "Kluster", "silo-1"))
	_, err = table.Read(ctx, "Kluster", "silo-1")
	require.ErrorIs(t, err, gerrors.ErrSiloNotFound)
}

func TestActivationTable(t *testing.T) {
	ctx := context.Background()
	table := NewActivationTable(openDB(t))

	entry := &placement.Entry{Key: "SmartGate/singleton", SiloID: "silo-1", Generation: 1, RegisteredAt: time.Now()}
	stored, err := table.CompareAndRegister(ctx, entry, 0)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = table.CompareAndRegister(ctx, &placement.Entry{Key: entry.Key, SiloID: "silo-2", Generation: 1}, 0)
	require.NoError(t, err)
	assert.False(t, stored)

	stored, err = table.CompareAndRegister(ctx, &placement.Entry{Key: entry.Key, SiloID: "silo-2", Generation: 2}, 1)
	require.NoError(t, err)
	assert.True(t, stored)

	require.NoError(t, table.Unregister(ctx, entry.Key, "silo-1", 1))
	current, ok, err := table.Lookup(ctx, entry.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "silo-2", current.SiloID)

	_, err = table.CompareAndRegister(ctx, &placement.Entry{Key: "SmartTurret/singleton", SiloID: "silo-2", Generation: 1}, 0)
	require.NoError(t, err)
	released, err := table.PurgeSilo(ctx, "silo-2")
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	current, ok, err = table.Lookup(ctx, entry.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, current.Released())
	assert.EqualValues(t, 2, current.Generation)

	released, err = table.PurgeSilo(ctx, "silo-2")
	require.NoError(t, err)
	assert.Zero(t, released)

	stored, err = table.CompareAndRegister(ctx, &placement.Entry{Key: entry.Key, SiloID: "silo-1", Generation: 3}, 2)
	require.NoError(t, err)
	assert.True(t, stored)
	require.NoError(t, table.Unregister(ctx, entry.Key, "silo-1", 3))
	current, ok, err = table.Lookup(ctx, entry.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, current.Released())
	assert.EqualValues(t, 3, current.Generation)
}

func TestReminderTable(t *testing.T) {
	ctx := context.Background()
	table := NewReminderTable(openDB(t))
	key := identity.NewSingleton("SmartTurret")
	now := time.Now().UTC()

	require.NoError(t, table.Upsert(ctx, &reminder.Entry{Key: key, Name: "late", DueTime: now.Add(time.Second), Period: time.Minute}))
	require.NoError(t, table.Upsert(ctx, &reminder.Entry{Key: key, Name: "early", DueTime: now.Add(-time.Second), Period: time.Minute}))
	require.NoError(t, table.Upsert(ctx, &reminder.Entry{Key: key, Name: "once", DueTime: now, Period: 0}))

	due, err := table.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].Name)
	assert.Equal(t, "once", due[1].Name)

	due, err = table.ListDue(ctx, now.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, due, 1)

	early := due[0]
	moved, err := table.Reschedule(ctx, key, "early", early.DueTime, early.DueTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = table.Reschedule(ctx, key, "early", early.DueTime, early.DueTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = table.Reschedule(ctx, key, "once", now, time.Time{})
	require.NoError(t, err)
	assert.True(t, moved)
	_, err = table.Get(ctx, key, "once")
	require.ErrorIs(t, err, gerrors.ErrReminderNotFound)

	stored, err := table.Get(ctx, key, "early")
	require.NoError(t, err)
	assert.True(t, stored.DueTime.Equal(early.DueTime.Add(time.Minute)))
	assert.Equal(t, time.Minute, stored.Period)

	require.NoError(t, table.Delete(ctx, key, "early"))
	require.ErrorIs(t, table.Delete(ctx, key, "early"), gerrors.ErrReminderNotFound)
}

func TestStreamStore(t *testing.T) {
	ctx := context.Background()
	store := NewStreamStore(openDB(t))
	gate := identity.NewSingleton("SmartGate")
	turret := identity.NewSingleton("SmartTurret")

	for i := range 5 {
		event, err := store.Append(ctx, "blocks", []byte{byte(i)})
		require.NoError(t, err)
		assert.EqualValues(t, i+1, event.Sequence)
	}

	events, err := store.ReadFrom(ctx, "blocks", 2, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.EqualValues(t, 3, events[0].Sequence)
	assert.Equal(t, []byte{3}, events[1].Payload)

	events, err = store.ReadFrom(ctx, "missing", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, store.Subscribe(ctx, "blocks", turret))
	require.NoError(t, store.Subscribe(ctx, "blocks", gate))
	require.NoError(t, store.Commit(ctx, "blocks", gate, 3))
	require.NoError(t, store.Subscribe(ctx, "blocks", gate))
	require.NoError(t, store.Commit(ctx, "blocks", gate, 1))

	offset, err := store.Offset(ctx, "blocks", gate)
	require.NoError(t, err)
	assert.EqualValues(t, 3, offset)

	subscribers, err := store.Subscribers(ctx, "blocks")
	require.NoError(t, err)
	assert.Equal(t, []identity.ActorKey{gate, turret}, subscribers)

	topics, err := store.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"blocks"}, topics)

	require.NoError(t, store.Unsubscribe(ctx, "blocks", gate))
	require.NoError(t, store.Unsubscribe(ctx, "blocks", turret))
	topics, err = store.Topics(ctx)
	require.NoError(t, err)
	assert.Empty(t, topics)

	offset, err = store.Offset(ctx, "blocks", gate)
	require.NoError(t, err)
	assert.Zero(t, offset)
}
