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

package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/jt7sku/koonti/actor"
	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/log"
)

const gateTopic = "world-events-SmartGate"

var (
	gateKey   = identity.NewSingleton("SmartGate")
	turretKey = identity.NewSingleton("SmartTurret")
)

type ownershipFunc func(identity.ActorKey) bool

func (f ownershipFunc) Owns(key identity.ActorKey) bool { return f(key) }

var ownsAll = ownershipFunc(func(identity.ActorKey) bool { return true })

// recordingCaller records the sequences each actor accepted.
type recordingCaller struct {
	mu        sync.Mutex
	delivered map[identity.ActorKey][]uint64
	failures  *atomic.Int32
	duplicate uint64
}

func newRecordingCaller() *recordingCaller {
	return &recordingCaller{delivered: make(map[identity.ActorKey][]uint64)}
}

func (c *recordingCaller) Call(_ context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	if method != actor.EventMethod {
		return nil, gerrors.NewErrUnknownMethod(method)
	}
	event, err := DecodeEvent(args)
	if err != nil {
		return nil, err
	}
	if c.failures != nil && c.failures.Dec() >= 0 {
		return nil, gerrors.NewErrActivationUnavailable(errors.New("silo unreachable"))
	}
	if event.Sequence == c.duplicate {
		return nil, gerrors.ErrDuplicateEvent
	}
	c.mu.Lock()
	c.delivered[key] = append(c.delivered[key], event.Sequence)
	c.mu.Unlock()
	return nil, nil
}

func (c *recordingCaller) sequences(key identity.ActorKey) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.delivered[key]...)
}

func testConfig(poll time.Duration) *config.Config {
	return config.New(
		config.WithLogger(log.DiscardLogger),
		config.WithStreamPolling(poll, 2),
		config.WithCallTimeout(time.Second),
	)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.Append(ctx, gateTopic, []byte("a"))
	require.NoError(t, err)
	second, err := store.Append(ctx, gateTopic, []byte("b"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.Sequence)
	assert.EqualValues(t, 2, second.Sequence)

	other, err := store.Append(ctx, "other", []byte("c"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, other.Sequence)

	events, err := store.ReadFrom(ctx, gateTopic, 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []byte("b"), events[0].Payload)

	events, err = store.ReadFrom(ctx, gateTopic, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, store.Subscribe(ctx, gateTopic, gateKey))
	require.NoError(t, store.Subscribe(ctx, gateTopic, turretKey))
	require.NoError(t, store.Commit(ctx, gateTopic, gateKey, 2))
	// a second subscribe keeps the offset
	require.NoError(t, store.Subscribe(ctx, gateTopic, gateKey))
	// offsets never move backwards
	require.NoError(t, store.Commit(ctx, gateTopic, gateKey, 1))

	offset, err := store.Offset(ctx, gateTopic, gateKey)
	require.NoError(t, err)
	assert.EqualValues(t, 2, offset)

	subscribers, err := store.Subscribers(ctx, gateTopic)
	require.NoError(t, err)
	assert.Equal(t, []identity.ActorKey{gateKey, turretKey}, subscribers)

	topics, err := store.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{gateTopic}, topics)

	require.NoError(t, store.Unsubscribe(ctx, gateTopic, gateKey))
	require.NoError(t, store.Unsubscribe(ctx, gateTopic, turretKey))
	topics, err = store.Topics(ctx)
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestLocalNotifier(t *testing.T) {
	ctx := context.Background()
	notifier := NewLocalNotifier()
	listener := notifier.Listener()

	require.NoError(t, listener.Notify(ctx, gateTopic))
	assert.Equal(t, gateTopic, <-notifier.Wakeups())
	assert.Equal(t, gateTopic, <-listener.Wakeups())

	require.NoError(t, listener.Close())
	_, open := <-listener.Wakeups()
	assert.False(t, open)

	require.NoError(t, notifier.Close())
	_, open = <-notifier.Wakeups()
	assert.False(t, open)
}

func TestChannel(t *testing.T) {
	ctx := context.Background()

	t.Run("With ordered delivery after wake-up", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		store := NewMemoryStore()
		caller := newRecordingCaller()
		notifier := NewLocalNotifier()
		channel := NewChannel(store, notifier, caller, ownsAll, testConfig(time.Minute), nil)
		require.NoError(t, channel.Start(ctx))

		require.NoError(t, channel.Subscribe(ctx, gateTopic, gateKey))
		for i := range 5 {
			_, err := channel.Publish(ctx, gateTopic, []byte{byte(i)})
			require.NoError(t, err)
		}

		require.Eventually(t, func() bool {
			return len(caller.sequences(gateKey)) == 5
		}, 3*time.Second, 10*time.Millisecond)
		assert.Equal(t, []uint64{1, 2, 3, 4, 5}, caller.sequences(gateKey))

		offset, err := store.Offset(ctx, gateTopic, gateKey)
		require.NoError(t, err)
		assert.EqualValues(t, 5, offset)

		require.NoError(t, channel.Stop(ctx))
		require.NoError(t, notifier.Close())
	})

	t.Run("With failed delivery retried by the poll loop", func(t *testing.T) {
		store := NewMemoryStore()
		caller := newRecordingCaller()
		caller.failures = atomic.NewInt32(1)
		notifier := NewLocalNotifier()
		channel := NewChannel(store, notifier, caller, ownsAll, testConfig(30*time.Millisecond), nil)
		require.NoError(t, channel.Start(ctx))

		require.NoError(t, channel.Subscribe(ctx, gateTopic, gateKey))
		_, err := channel.Publish(ctx, gateTopic, []byte("a"))
		require.NoError(t, err)
		_, err = channel.Publish(ctx, gateTopic, []byte("b"))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(caller.sequences(gateKey)) == 2
		}, 3*time.Second, 10*time.Millisecond)
		assert.Equal(t, []uint64{1, 2}, caller.sequences(gateKey))

		require.NoError(t, channel.Stop(ctx))
		require.NoError(t, notifier.Close())
	})

	t.Run("With duplicate events acknowledged", func(t *testing.T) {
		store := NewMemoryStore()
		caller := newRecordingCaller()
		caller.duplicate = 1
		notifier := NewLocalNotifier()
		channel := NewChannel(store, notifier, caller, ownsAll, testConfig(time.Minute), nil)
		require.NoError(t, channel.Start(ctx))

		require.NoError(t, channel.Subscribe(ctx, gateTopic, gateKey))
		_, err := channel.Publish(ctx, gateTopic, []byte("a"))
		require.NoError(t, err)
		_, err = channel.Publish(ctx, gateTopic, []byte("b"))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			offset, _ := store.Offset(ctx, gateTopic, gateKey)
			return offset == 2
		}, 3*time.Second, 10*time.Millisecond)
		assert.Equal(t, []uint64{2}, caller.sequences(gateKey))

		require.NoError(t, channel.Stop(ctx))
		require.NoError(t, notifier.Close())
	})

	t.Run("With subscribers split across silos", func(t *testing.T) {
		store := NewMemoryStore()
		hub := NewLocalNotifier()
		gateCaller := newRecordingCaller()
		turretCaller := newRecordingCaller()

		gates := NewChannel(store, hub.Listener(), gateCaller,
			ownershipFunc(func(key identity.ActorKey) bool { return key == gateKey }), testConfig(time.Minute), nil)
		turrets := NewChannel(store, hub.Listener(), turretCaller,
			ownershipFunc(func(key identity.ActorKey) bool { return key == turretKey }), testConfig(time.Minute), nil)
		require.NoError(t, gates.Start(ctx))
		require.NoError(t, turrets.Start(ctx))

		require.NoError(t, gates.Subscribe(ctx, gateTopic, gateKey))
		require.NoError(t, gates.Subscribe(ctx, gateTopic, turretKey))
		_, err := turrets.Publish(ctx, gateTopic, []byte("a"))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(gateCaller.sequences(gateKey)) == 1 && len(turretCaller.sequences(turretKey)) == 1
		}, 3*time.Second, 10*time.Millisecond)
		assert.Empty(t, gateCaller.sequences(turretKey))
		assert.Empty(t, turretCaller.sequences(gateKey))

		require.NoError(t, gates.Stop(ctx))
		require.NoError(t, turrets.Stop(ctx))
		require.NoError(t, hub.Close())
	})

	t.Run("With invalid topic", func(t *testing.T) {
		channel := NewChannel(NewMemoryStore(), NewLocalNotifier(), newRecordingCaller(), ownsAll, testConfig(time.Minute), nil)
		_, err := channel.Publish(ctx, "", nil)
		require.ErrorIs(t, err, gerrors.ErrInvalidArgument)
		require.ErrorIs(t, channel.Subscribe(ctx, "", gateKey), gerrors.ErrInvalidArgument)
	})
}
