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

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/jt7sku/koonti/actor"
	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/log"
	"github.com/jt7sku/koonti/membership"
	"github.com/jt7sku/koonti/persistence"
	"github.com/jt7sku/koonti/placement"
)

const whereType = "Where"

// where answers with the silo hosting it.
type where struct{}

func (where) State() any                        { return &struct{}{} }
func (where) OnActivate(*actor.Context) error   { return nil }
func (where) OnDeactivate(*actor.Context) error { return nil }
func (where) Receive(ctx *actor.Context, method string, _ []byte) ([]byte, error) {
	if method != "where" {
		return nil, gerrors.NewErrUnknownMethod(method)
	}
	return []byte(ctx.SiloID()), nil
}

// fakeMembership is a static membership view.
type fakeMembership struct {
	mu        sync.Mutex
	records   map[string]*membership.SiloRecord
	suspected []string
	onRefresh func()
}

func (m *fakeMembership) add(siloID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[siloID] = &membership.SiloRecord{SiloID: siloID, Address: siloID, Status: membership.Active}
}

func (m *fakeMembership) kill(siloID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[siloID].Status = membership.Dead
}

func (m *fakeMembership) Lookup(siloID string) (*membership.SiloRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[siloID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

func (m *fakeMembership) IsAlive(siloID string) bool {
	record, ok := m.Lookup(siloID)
	return ok && record.IsAlive()
}

func (m *fakeMembership) Suspect(_ context.Context, siloID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspected = append(m.suspected, siloID)
	return nil
}

func (m *fakeMembership) Refresh(context.Context) error {
	if m.onRefresh != nil {
		m.onRefresh()
	}
	return nil
}

// fakeTransport forwards to in-process engines addressed by silo id.
type fakeTransport struct {
	engines map[string]*actor.Engine
	down    *atomic.Bool
	calls   *atomic.Int32
	hook    func(ctx context.Context, address string) error
}

func (t *fakeTransport) Invoke(ctx context.Context, address string, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	t.calls.Inc()
	if t.down.Load() {
		return nil, gerrors.NewErrActivationUnavailable(errors.New("connection refused"))
	}
	if t.hook != nil {
		if err := t.hook(ctx, address); err != nil {
			return nil, err
		}
	}
	return t.engines[address].InvokeLocal(ctx, key, method, args)
}

type testCluster struct {
	membership *fakeMembership
	transport  *fakeTransport
	table      *placement.MemoryTable
	store      *persistence.MemoryStore
	ring       *placement.Ring
	cfg        *config.Config
}

func newTestCluster(t *testing.T, silos ...string) *testCluster {
	c := &testCluster{
		membership: &fakeMembership{records: make(map[string]*membership.SiloRecord)},
		transport: &fakeTransport{
			engines: make(map[string]*actor.Engine),
			down:    atomic.NewBool(false),
			calls:   atomic.NewInt32(0),
		},
		table: placement.NewMemoryTable(),
		store: persistence.NewMemoryStore(),
		ring:  placement.NewRing(16, nil),
		cfg: config.New(
			config.WithLogger(log.DiscardLogger),
			config.WithIdleTimeout(0),
			config.WithCallTimeout(time.Second),
		),
	}
	for _, siloID := range silos {
		c.membership.add(siloID)
		engine := actor.NewEngine(siloID, c.cfg, c.store, placement.NewDirectory(c.table, c.membership, nil))
		engine.Register(whereType, func(identity.ActorKey) actor.Actor { return where{} })
		require.NoError(t, engine.Start(context.Background()))
		t.Cleanup(func() { _ = engine.Stop(context.Background()) })
		c.transport.engines[siloID] = engine
	}
	c.ring.Update(silos)
	return c
}

func (c *testCluster) router(siloID string) *Router {
	return NewRouter(siloID, c.transport.engines[siloID], placement.NewDirectory(c.table, c.membership, nil),
		c.ring, c.membership, c.transport, c.cfg)
}

// keyOwnedBy finds a key whose ring owner is siloID.
func (c *testCluster) keyOwnedBy(t *testing.T, siloID string) identity.ActorKey {
	t.Helper()
	for i := range 1000 {
		key := identity.New(whereType, fmt.Sprintf("k%d", i))
		if owner, _ := c.ring.Owner(key.String()); owner == siloID {
			return key
		}
	}
	t.Fatalf("no key owned by %s", siloID)
	return identity.ActorKey{}
}

func TestRouter(t *testing.T) {
	ctx := context.Background()

	t.Run("With local owner", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1")
		router := cluster.router("silo-1")
		key := identity.NewSingleton(whereType)

		assert.True(t, router.Owns(key))
		reply, err := router.Call(ctx, key, "where", nil)
		require.NoError(t, err)
		assert.Equal(t, "silo-1", string(reply))
		assert.Zero(t, cluster.transport.calls.Load())
	})

	t.Run("With remote owner", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1", "silo-2")
		key := cluster.keyOwnedBy(t, "silo-2")
		router := cluster.router("silo-1")

		assert.False(t, router.Owns(key))
		reply, err := router.Call(ctx, key, "where", nil)
		require.NoError(t, err)
		assert.Equal(t, "silo-2", string(reply))
		assert.EqualValues(t, 1, cluster.transport.calls.Load())
	})

	t.Run("With activation held off the ring owner", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1", "silo-2")
		key := cluster.keyOwnedBy(t, "silo-2")

		// silo-1 activated the key before silo-2 joined the ring
		_, err := cluster.transport.engines["silo-1"].Activate(ctx, key)
		require.NoError(t, err)

		reply, err := cluster.router("silo-2").Call(ctx, key, "where", nil)
		require.NoError(t, err)
		assert.Equal(t, "silo-1", string(reply))
	})

	t.Run("With ownership redirect", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1", "silo-2", "silo-3")
		key := cluster.keyOwnedBy(t, "silo-2")
		cluster.transport.hook = func(_ context.Context, address string) error {
			if address == "silo-2" {
				return gerrors.NewNotOwnerError(key.String(), "silo-3")
			}
			return nil
		}

		reply, err := cluster.router("silo-1").Call(ctx, key, "where", nil)
		require.NoError(t, err)
		assert.Equal(t, "silo-3", string(reply))
	})

	t.Run("With unavailable owner retried once", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1", "silo-2")
		key := cluster.keyOwnedBy(t, "silo-2")
		cluster.transport.down.Store(true)
		cluster.membership.onRefresh = func() {
			cluster.membership.kill("silo-2")
			cluster.ring.Update([]string{"silo-1"})
		}

		reply, err := cluster.router("silo-1").Call(ctx, key, "where", nil)
		require.NoError(t, err)
		assert.Equal(t, "silo-1", string(reply))
		assert.Equal(t, []string{"silo-2"}, cluster.membership.suspected)
	})

	t.Run("With timed out owner retried once", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1", "silo-2")
		key := cluster.keyOwnedBy(t, "silo-2")
		hung := atomic.NewInt32(0)
		cluster.transport.hook = func(ctx context.Context, address string) error {
			if address != "silo-2" {
				return nil
			}
			hung.Inc()
			<-ctx.Done()
			return gerrors.NewErrActivationUnavailable(ctx.Err())
		}
		cluster.membership.onRefresh = func() {
			cluster.membership.kill("silo-2")
			cluster.ring.Update([]string{"silo-1"})
		}

		reply, err := cluster.router("silo-1").Call(ctx, key, "where", nil)
		require.NoError(t, err)
		assert.Equal(t, "silo-1", string(reply))
		assert.EqualValues(t, 1, hung.Load())
		assert.Equal(t, []string{"silo-2"}, cluster.membership.suspected)
	})

	t.Run("With caller context done", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1", "silo-2")
		key := cluster.keyOwnedBy(t, "silo-2")
		cluster.transport.hook = func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return gerrors.NewErrActivationUnavailable(ctx.Err())
		}

		callCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := cluster.router("silo-1").Call(callCtx, key, "where", nil)
		require.ErrorIs(t, err, gerrors.ErrActivationUnavailable)
		assert.EqualValues(t, 1, cluster.transport.calls.Load())
		assert.Empty(t, cluster.membership.suspected)
	})

	t.Run("With unavailable reply from a reachable owner", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1", "silo-2")
		key := cluster.keyOwnedBy(t, "silo-2")
		cluster.transport.hook = func(_ context.Context, address string) error {
			if address == "silo-2" {
				return gerrors.FromCode(gerrors.CodeActivationUnavailable, "state store unreachable", key.String(), "")
			}
			return nil
		}
		router := cluster.router("silo-1")

		for range 3 {
			_, err := router.Call(ctx, key, "where", nil)
			require.ErrorIs(t, err, gerrors.ErrActivationUnavailable)
		}
		// retried every time, the breaker stays closed and nobody is suspected
		assert.EqualValues(t, 6, cluster.transport.calls.Load())
		assert.Empty(t, cluster.membership.suspected)
	})

	t.Run("With unavailable owner after retry", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1", "silo-2")
		key := cluster.keyOwnedBy(t, "silo-2")
		cluster.transport.down.Store(true)

		_, err := cluster.router("silo-1").Call(ctx, key, "where", nil)
		require.ErrorIs(t, err, gerrors.ErrActivationUnavailable)
		assert.EqualValues(t, 2, cluster.transport.calls.Load())
	})

	t.Run("With open circuit breaker", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1", "silo-2")
		key := cluster.keyOwnedBy(t, "silo-2")
		cluster.transport.down.Store(true)
		router := cluster.router("silo-1")

		for range 2 {
			_, err := router.Call(ctx, key, "where", nil)
			require.ErrorIs(t, err, gerrors.ErrActivationUnavailable)
		}
		calls := cluster.transport.calls.Load()
		assert.EqualValues(t, 3, calls)

		// the breaker fails fast without reaching the transport
		_, err := router.Call(ctx, key, "where", nil)
		require.ErrorIs(t, err, gerrors.ErrActivationUnavailable)
		assert.Equal(t, calls, cluster.transport.calls.Load())
	})

	t.Run("With application errors", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1", "silo-2")
		key := cluster.keyOwnedBy(t, "silo-2")
		router := cluster.router("silo-1")

		for range 5 {
			_, err := router.Call(ctx, key, "fly", nil)
			require.ErrorIs(t, err, gerrors.ErrUnknownMethod)
		}
		reply, err := router.Call(ctx, key, "where", nil)
		require.NoError(t, err)
		assert.Equal(t, "silo-2", string(reply))
		assert.Empty(t, cluster.membership.suspected)
	})

	t.Run("With invalid key", func(t *testing.T) {
		cluster := newTestCluster(t, "silo-1")
		_, err := cluster.router("silo-1").Call(ctx, identity.New(whereType, ""), "where", nil)
		require.ErrorIs(t, err, gerrors.ErrInvalidActorKey)
	})
}
