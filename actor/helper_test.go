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

package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	goset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/log"
	"github.com/jt7sku/koonti/persistence"
	"github.com/jt7sku/koonti/placement"
)

const counterType = "Counter"

var counterKey = identity.NewSingleton(counterType)

type counterState struct {
	Count int64 `cbor:"1,keyasint"`
}

// counter is an actor whose state is a single integer.
type counter struct {
	state        counterState
	activated    *atomic.Int32
	deactivated  *atomic.Int32
	failActivate *atomic.Int32
	slowActivate time.Duration
}

func (c *counter) State() any { return &c.state }

func (c *counter) OnActivate(ctx *Context) error {
	if c.slowActivate > 0 {
		select {
		case <-time.After(c.slowActivate):
		case <-ctx.Context().Done():
			return ctx.Context().Err()
		}
	}
	if c.failActivate != nil && c.failActivate.Dec() >= 0 {
		return errors.New("warming up")
	}
	c.activated.Inc()
	return nil
}

func (c *counter) OnDeactivate(*Context) error {
	c.deactivated.Inc()
	return nil
}

func (c *counter) Receive(ctx *Context, method string, args []byte) ([]byte, error) {
	switch method {
	case "add":
		var delta int64
		if err := DecodeArgs(args, &delta); err != nil {
			return nil, err
		}
		c.state.Count += delta
		ctx.MarkDirty()
		return EncodeArgs(c.state.Count)
	case "get":
		return EncodeArgs(c.state.Count)
	case "addThenFail":
		c.state.Count += 1000
		ctx.MarkDirty()
		return nil, errors.New("chain RPC unavailable")
	case "reset":
		c.state = counterState{}
		ctx.ClearState()
		return nil, nil
	case "slowAdd":
		time.Sleep(200 * time.Millisecond)
		c.state.Count++
		ctx.MarkDirty()
		return EncodeArgs(c.state.Count)
	case "sleep":
		var d time.Duration
		if err := DecodeArgs(args, &d); err != nil {
			return nil, err
		}
		time.Sleep(d)
		return nil, nil
	case "panic":
		panic("nil checkpoint")
	default:
		return nil, gerrors.NewErrUnknownMethod(method)
	}
}

type counterFactory struct {
	activated    *atomic.Int32
	deactivated  *atomic.Int32
	failActivate *atomic.Int32
	slowActivate time.Duration
}

func newCounterFactory() *counterFactory {
	return &counterFactory{
		activated:   atomic.NewInt32(0),
		deactivated: atomic.NewInt32(0),
	}
}

func (f *counterFactory) New(identity.ActorKey) Actor {
	return &counter{
		activated:    f.activated,
		deactivated:  f.deactivated,
		failActivate: f.failActivate,
		slowActivate: f.slowActivate,
	}
}

type liveSet struct {
	set goset.Set[string]
}

func newLiveSet(ids ...string) *liveSet {
	return &liveSet{set: goset.NewSet[string](ids...)}
}

func (l *liveSet) IsAlive(siloID string) bool {
	return l.set.Contains(siloID)
}

// cluster shares the store and the activation table between test engines.
type cluster struct {
	store *persistence.MemoryStore
	table *placement.MemoryTable
	live  *liveSet
}

func newCluster() *cluster {
	return &cluster{
		store: persistence.NewMemoryStore(),
		table: placement.NewMemoryTable(),
		live:  newLiveSet(),
	}
}

func (c *cluster) engine(t *testing.T, siloID string, factory *counterFactory, opts ...config.Option) *Engine {
	t.Helper()
	c.live.set.Add(siloID)
	cfg := config.New(append([]config.Option{
		config.WithLogger(log.DiscardLogger),
		config.WithIdleTimeout(0),
		config.WithCallTimeout(time.Second),
		config.WithActivationTimeout(time.Second),
	}, opts...)...)

	directory := placement.NewDirectory(c.table, c.live, log.DiscardLogger)
	engine := NewEngine(siloID, cfg, c.store, directory)
	engine.Register(counterType, factory.New)
	require.NoError(t, engine.Start(context.Background()))
	return engine
}

func add(t *testing.T, engine *Engine, delta int64) int64 {
	t.Helper()
	args, err := EncodeArgs(delta)
	require.NoError(t, err)
	reply, err := engine.InvokeLocal(context.Background(), counterKey, "add", args)
	require.NoError(t, err)
	var count int64
	require.NoError(t, DecodeArgs(reply, &count))
	return count
}
