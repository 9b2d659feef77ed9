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

package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/log"
	"github.com/jt7sku/koonti/membership"
)

type fakeTransport struct {
	mu     sync.Mutex
	down   map[string]bool
	calls  []string
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{down: make(map[string]bool)}
}

func (f *fakeTransport) Call(_ context.Context, address string, key identity.ActorKey, method string, _ []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, address)
	if f.down[address] {
		return nil, gerrors.NewErrActivationUnavailable(errors.New("connection refused"))
	}
	if method == "fail" {
		return nil, gerrors.NewErrUnknownMethod(method)
	}
	return []byte(address + "|" + key.String()), nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTransport) setDown(address string, down bool) {
	f.mu.Lock()
	f.down[address] = down
	f.mu.Unlock()
}

func (f *fakeTransport) addresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func insertSilo(t *testing.T, table membership.Table, id, gateway string, status membership.Status) {
	t.Helper()
	require.NoError(t, table.Insert(context.Background(), &membership.SiloRecord{
		ClusterID:      config.DefaultClusterID,
		SiloID:         id,
		GatewayAddress: gateway,
		Status:         status,
		StartedAt:      time.Now(),
		LastHeartbeat:  time.Now(),
	}))
}

func testConfig(refresh time.Duration) *config.Config {
	return config.New(config.WithGatewayRefreshPeriod(refresh), config.WithLogger(log.DiscardLogger))
}

func TestClient(t *testing.T) {
	key := identity.NewSingleton("SmartGate")

	t.Run("With round robin over active gateways", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		table := membership.NewMemoryTable()
		insertSilo(t, table, "silo-1", "127.0.0.1:30001", membership.Active)
		insertSilo(t, table, "silo-2", "127.0.0.1:30002", membership.Active)
		insertSilo(t, table, "silo-3", "127.0.0.1:30003", membership.Joining)
		insertSilo(t, table, "silo-4", "127.0.0.1:30004", membership.Dead)

		transport := newFakeTransport()
		client, err := New(context.Background(), table, testConfig(time.Hour), WithTransport(transport))
		require.NoError(t, err)

		assert.Equal(t, []string{"127.0.0.1:30001", "127.0.0.1:30002"}, client.Gateways())
		for range 4 {
			_, err := client.Call(context.Background(), key, "GetWorlds", nil)
			require.NoError(t, err)
		}
		assert.Equal(t, []string{"127.0.0.1:30001", "127.0.0.1:30002", "127.0.0.1:30001", "127.0.0.1:30002"}, transport.addresses())

		client.Close()
		client.Close()
		assert.True(t, transport.closed)
	})

	t.Run("With retry on another gateway", func(t *testing.T) {
		table := membership.NewMemoryTable()
		insertSilo(t, table, "silo-1", "127.0.0.1:30001", membership.Active)
		insertSilo(t, table, "silo-2", "127.0.0.1:30002", membership.Active)

		transport := newFakeTransport()
		transport.setDown("127.0.0.1:30001", true)
		client, err := New(context.Background(), table, testConfig(time.Hour), WithTransport(transport))
		require.NoError(t, err)
		t.Cleanup(client.Close)

		reply, err := client.Call(context.Background(), key, "GetWorlds", nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:30002|SmartGate/singleton", string(reply))
		assert.Equal(t, []string{"127.0.0.1:30001", "127.0.0.1:30002"}, transport.addresses())
	})

	t.Run("With a single retry", func(t *testing.T) {
		table := membership.NewMemoryTable()
		insertSilo(t, table, "silo-1", "127.0.0.1:30001", membership.Active)

		transport := newFakeTransport()
		transport.setDown("127.0.0.1:30001", true)
		client, err := New(context.Background(), table, testConfig(time.Hour), WithTransport(transport))
		require.NoError(t, err)
		t.Cleanup(client.Close)

		_, err = client.Call(context.Background(), key, "GetWorlds", nil)
		require.ErrorIs(t, err, gerrors.ErrActivationUnavailable)
		assert.Len(t, transport.addresses(), 2)
	})

	t.Run("With application error not retried", func(t *testing.T) {
		table := membership.NewMemoryTable()
		insertSilo(t, table, "silo-1", "127.0.0.1:30001", membership.Active)
		insertSilo(t, table, "silo-2", "127.0.0.1:30002", membership.Active)

		transport := newFakeTransport()
		client, err := New(context.Background(), table, testConfig(time.Hour), WithTransport(transport))
		require.NoError(t, err)
		t.Cleanup(client.Close)

		_, err = client.Call(context.Background(), key, "fail", nil)
		require.ErrorIs(t, err, gerrors.ErrUnknownMethod)
		assert.Len(t, transport.addresses(), 1)
	})

	t.Run("With no gateway", func(t *testing.T) {
		transport := newFakeTransport()
		client, err := New(context.Background(), membership.NewMemoryTable(), testConfig(time.Hour), WithTransport(transport))
		require.NoError(t, err)
		t.Cleanup(client.Close)

		_, err = client.Call(context.Background(), key, "GetWorlds", nil)
		require.ErrorIs(t, err, gerrors.ErrNoGateway)

		_, err = client.Call(context.Background(), identity.ActorKey{}, "GetWorlds", nil)
		require.ErrorIs(t, err, gerrors.ErrInvalidActorKey)
	})

	t.Run("With periodic refresh", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		table := membership.NewMemoryTable()
		transport := newFakeTransport()
		client, err := New(context.Background(), table, testConfig(20*time.Millisecond),
			WithTransport(transport),
			WithBalancerStrategy(RandomStrategy))
		require.NoError(t, err)
		assert.Empty(t, client.Gateways())

		insertSilo(t, table, "silo-1", "127.0.0.1:30001", membership.Active)
		require.Eventually(t, func() bool {
			return len(client.Gateways()) == 1
		}, time.Second, 10*time.Millisecond)

		reply, err := client.Call(context.Background(), key, "GetWorlds", nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:30001|SmartGate/singleton", string(reply))
		client.Close()
	})
}

func TestBalancers(t *testing.T) {
	t.Run("With round robin", func(t *testing.T) {
		balancer := NewRoundRobin()
		_, ok := balancer.Next()
		assert.False(t, ok)

		balancer.Set("a", "b", "c")
		var picked []string
		for range 4 {
			gateway, ok := balancer.Next()
			require.True(t, ok)
			picked = append(picked, gateway)
		}
		assert.Equal(t, []string{"a", "b", "c", "a"}, picked)
	})

	t.Run("With random", func(t *testing.T) {
		balancer := NewRandom()
		_, ok := balancer.Next()
		assert.False(t, ok)

		balancer.Set("a", "b")
		for range 10 {
			gateway, ok := balancer.Next()
			require.True(t, ok)
			assert.Contains(t, []string{"a", "b"}, gateway)
		}
	})
}
