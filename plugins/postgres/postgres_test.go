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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/membership"
	"github.com/jt7sku/koonti/placement"
	"github.com/jt7sku/koonti/reminder"
)

func TestPostgres(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	db := startPostgres(t)
	ctx := context.Background()

	t.Run("With state store", func(t *testing.T) {
		store := NewStateStore(db)
		key := identity.NewSingleton("SmartGate")

		_, err := store.Read(ctx, key)
		require.ErrorIs(t, err, gerrors.ErrNotFound)

		version, err := store.Write(ctx, key, []byte("v1"), 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1, version)

		_, err = store.Write(ctx, key, []byte("stale"), 0)
		require.ErrorIs(t, err, gerrors.ErrVersionConflict)
		_, err = store.Write(ctx, key, []byte("stale"), 3)
		require.ErrorIs(t, err, gerrors.ErrVersionConflict)

		version, err = store.Write(ctx, key, []byte("v2"), 1)
		require.NoError(t, err)
		assert.EqualValues(t, 2, version)

		record, err := store.Read(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(record.State))

		require.ErrorIs(t, store.Delete(ctx, key, 0), gerrors.ErrVersionConflict)
		require.NoError(t, store.Delete(ctx, key, 2))
		require.NoError(t, store.Delete(ctx, key, 0))
	})

	t.Run("With membership table", func(t *testing.T) {
		table := NewMembershipTable(db)
		now := time.Now().UTC().Truncate(time.Microsecond)
		record := &membership.SiloRecord{
			ClusterID:     "Kluster",
			SiloID:        "silo-1",
			Name:          "SmartGate_1",
			Address:       "127.0.0.1:11111",
			Status:        membership.Joining,
			StartedAt:     now,
			LastHeartbeat: now,
		}
		require.NoError(t, table.Insert(ctx, record))
		require.ErrorIs(t, table.Insert(ctx, record), gerrors.ErrSiloAlreadyExists)

		record.Status = membership.Active
		record.Suspicions = []membership.Suspicion{{SuspecterID: "silo-2", At: now}}
		require.NoError(t, table.Update(ctx, record, 1))
		require.ErrorIs(t, table.Update(ctx, record, 1), gerrors.ErrVersionConflict)

		later := now.Add(time.Second)
		require.NoError(t, table.Heartbeat(ctx, "Kluster", "silo-1", later))
		require.NoError(t, table.Heartbeat(ctx, "Kluster", "silo-1", now))
		require.ErrorIs(t, table.Heartbeat(ctx, "Kluster", "silo-9", now), gerrors.ErrSiloNotFound)

		records, err := table.ReadAll(ctx, "Kluster")
		require.NoError(t, err)
		require.Len(t, records, 1)
		stored := records[0]
		assert.Equal(t, membership.Active, stored.Status)
		assert.EqualValues(t, 2, stored.Version)
		assert.True(t, stored.LastHeartbeat.Equal(later))
		require.Len(t, stored.Suspicions, 1)
		assert.Equal(t, "silo-2", stored.Suspicions[0].SuspecterID)

		require.NoError(t, table.Delete(ctx, "Kluster", "silo-1"))
		_, err = table.Read(ctx, "Kluster", "silo-1")
		require.ErrorIs(t, err, gerrors.ErrSiloNotFound)
	})

	t.Run("With activation table", func(t *testing.T) {
		table := NewActivationTable(db)
		key := "SmartTurret/singleton"

		stored, err := table.CompareAndRegister(ctx, &placement.Entry{Key: key, SiloID: "silo-1", Generation: 1, RegisteredAt: time.Now()}, 0)
		require.NoError(t, err)
		assert.True(t, stored)
		stored, err = table.CompareAndRegister(ctx, &placement.Entry{Key: key, SiloID: "silo-2", Generation: 1, RegisteredAt: time.Now()}, 0)
		require.NoError(t, err)
		assert.False(t, stored)

		entry, ok, err := table.Lookup(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "silo-1", entry.SiloID)

		released, err := table.PurgeSilo(ctx, "silo-1")
		require.NoError(t, err)
		assert.Equal(t, 1, released)
		entry, ok, err = table.Lookup(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, entry.Released())

		// the next owner carries on from the released generation
		stored, err = table.CompareAndRegister(ctx, &placement.Entry{Key: key, SiloID: "silo-2", Generation: 2, RegisteredAt: time.Now()}, 1)
		require.NoError(t, err)
		assert.True(t, stored)
		require.NoError(t, table.Unregister(ctx, key, "silo-2", 2))
		entry, ok, err = table.Lookup(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, entry.Released())
		assert.EqualValues(t, 2, entry.Generation)
	})

	t.Run("With reminder table", func(t *testing.T) {
		table := NewReminderTable(db)
		key := identity.NewSingleton("SmartStorageUnit")
		now := time.Now().UTC()

		require.NoError(t, table.Upsert(ctx, &reminder.Entry{Key: key, Name: "sync", DueTime: now.Add(-time.Second), Period: time.Minute}))
		require.NoError(t, table.Upsert(ctx, &reminder.Entry{Key: key, Name: "later", DueTime: now.Add(time.Hour), Period: time.Minute}))

		due, err := table.ListDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "sync", due[0].Name)
		assert.Equal(t, time.Minute, due[0].Period)

		moved, err := table.Reschedule(ctx, key, "sync", due[0].DueTime, due[0].DueTime.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, moved)
		moved, err = table.Reschedule(ctx, key, "sync", due[0].DueTime, time.Time{})
		require.NoError(t, err)
		assert.False(t, moved)

		require.NoError(t, table.Delete(ctx, key, "later"))
		require.ErrorIs(t, table.Delete(ctx, key, "later"), gerrors.ErrReminderNotFound)
	})
}

func startPostgres(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "koonti",
				"POSTGRES_PASSWORD": "koonti",
				"POSTGRES_DB":       "koonti",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := Connect(ctx, fmt.Sprintf("postgres://koonti:koonti@%s:%s/koonti?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)
	return db
}

func TestStreamStore(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	db := startPostgres(t)
	ctx := context.Background()
	store := NewStreamStore(db)
	gate := identity.NewSingleton("SmartGate")

	for i := range 3 {
		event, err := store.Append(ctx, "blocks", []byte{byte(i)})
		require.NoError(t, err)
		assert.EqualValues(t, i+1, event.Sequence)
	}

	events, err := store.ReadFrom(ctx, "blocks", 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.EqualValues(t, 2, events[0].Sequence)
	assert.Equal(t, []byte{2}, events[1].Payload)

	require.NoError(t, store.Subscribe(ctx, "blocks", gate))
	require.NoError(t, store.Commit(ctx, "blocks", gate, 2))
	require.NoError(t, store.Commit(ctx, "blocks", gate, 1))
	require.NoError(t, store.Subscribe(ctx, "blocks", gate))

	offset, err := store.Offset(ctx, "blocks", gate)
	require.NoError(t, err)
	assert.EqualValues(t, 2, offset)

	topics, err := store.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"blocks"}, topics)

	require.NoError(t, store.Unsubscribe(ctx, "blocks", gate))
	subscribers, err := store.Subscribers(ctx, "blocks")
	require.NoError(t, err)
	assert.Empty(t, subscribers)
}
