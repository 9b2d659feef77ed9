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

package worlds

import (
	"cmp"
	"slices"
	"time"

	"github.com/jt7sku/koonti/actor"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/reminder"
	"github.com/jt7sku/koonti/stream"
)

// Methods of the world registry.
const (
	MethodCreateWorld = "CreateWorld"
	MethodGetWorlds   = "GetWorlds"
	MethodGetWorld    = "GetWorld"
	MethodLastSync    = "LastSync"
)

// CreateWorldArgs are the arguments of CreateWorld.
type CreateWorldArgs struct {
	Address     string `cbor:"1,keyasint"`
	BlockNumber *int64 `cbor:"2,keyasint,omitempty"`
}

type registryState struct {
	Worlds map[string]Checkpoint `cbor:"1,keyasint"`
	Syncs  map[string]time.Time  `cbor:"2,keyasint"`
}

// Registry is the actor tracking the worlds of one entity type.
type Registry struct {
	state registryState
}

var _ actor.Actor = (*Registry)(nil)

// New creates the registry of the given key. It is an actor.Factory.
func New(identity.ActorKey) actor.Actor {
	return &Registry{}
}

// State implements actor.Actor.
func (r *Registry) State() any {
	return &r.state
}

// OnActivate implements actor.Actor.
func (r *Registry) OnActivate(ctx *actor.Context) error {
	if r.state.Worlds == nil {
		r.state.Worlds = make(map[string]Checkpoint)
	}
	if r.state.Syncs == nil {
		r.state.Syncs = make(map[string]time.Time)
	}
	ctx.Logger().Debugf("world registry (%s) activated with %d worlds", ctx.Key(), len(r.state.Worlds))
	return nil
}

// OnDeactivate implements actor.Actor.
func (r *Registry) OnDeactivate(*actor.Context) error {
	return nil
}

// Receive implements actor.Actor.
func (r *Registry) Receive(ctx *actor.Context, method string, args []byte) ([]byte, error) {
	switch method {
	case MethodCreateWorld:
		var request CreateWorldArgs
		if err := actor.DecodeArgs(args, &request); err != nil {
			return nil, err
		}
		id, err := r.createWorld(ctx, request.Address, request.BlockNumber)
		if err != nil {
			return nil, err
		}
		return actor.EncodeArgs(id)
	case MethodGetWorlds:
		return actor.EncodeArgs(r.sorted(func(string) bool { return true }))
	case MethodGetWorld:
		var addresses []string
		if err := actor.DecodeArgs(args, &addresses); err != nil {
			return nil, err
		}
		wanted := make(map[string]struct{}, len(addresses))
		for _, address := range addresses {
			wanted[NormalizeAddress(address)] = struct{}{}
		}
		return actor.EncodeArgs(r.sorted(func(address string) bool {
			_, ok := wanted[address]
			return ok
		}))
	case MethodLastSync:
		var name string
		if err := actor.DecodeArgs(args, &name); err != nil {
			return nil, err
		}
		return actor.EncodeArgs(r.state.Syncs[name])
	case actor.EventMethod:
		return nil, r.observe(ctx, args)
	case actor.ReminderMethod:
		tick, err := reminder.DecodeTick(args)
		if err != nil {
			return nil, err
		}
		r.state.Syncs[tick.Name] = tick.FiredAt
		ctx.MarkDirty()
		return nil, nil
	default:
		return nil, gerrors.NewErrUnknownMethod(method)
	}
}

// createWorld registers address or advances its checkpoint. The id of a
// world is its normalized address.
func (r *Registry) createWorld(ctx *actor.Context, address string, blockNumber *int64) (string, error) {
	id := NormalizeAddress(address)
	if id == "" {
		return "", gerrors.NewErrInvalidArgument(errEmptyAddress)
	}
	if blockNumber != nil && *blockNumber < 0 {
		return "", gerrors.NewErrInvalidArgument(errNegativeBlock)
	}

	checkpoint, ok := r.state.Worlds[id]
	if !ok {
		checkpoint = Checkpoint{Address: id}
	}
	if checkpoint.advance(blockNumber) || !ok {
		r.state.Worlds[id] = checkpoint
		ctx.MarkDirty()
	}
	return id, nil
}

// observe applies a block observation. Stale and duplicate blocks are
// dropped. A malformed payload is logged and acknowledged so it cannot stall
// the topic.
func (r *Registry) observe(ctx *actor.Context, args []byte) error {
	event, err := stream.DecodeEvent(args)
	if err != nil {
		return err
	}

	var observed BlockObserved
	if err := actor.DecodeArgs(event.Payload, &observed); err != nil {
		ctx.Logger().Warnf("dropping event (%s/%d): %v", event.Topic, event.Sequence, err)
		return nil
	}

	address := NormalizeAddress(observed.Address)
	if address == "" || observed.BlockNumber < 0 {
		ctx.Logger().Warnf("dropping event (%s/%d): invalid block observation", event.Topic, event.Sequence)
		return nil
	}

	checkpoint, ok := r.state.Worlds[address]
	if !ok {
		checkpoint = Checkpoint{Address: address}
	}
	if !checkpoint.advance(&observed.BlockNumber) {
		ctx.Logger().Debugf("event (%s/%d) for (%s): %v", event.Topic, event.Sequence, address, gerrors.ErrDuplicateEvent)
		return nil
	}
	r.state.Worlds[address] = checkpoint
	ctx.MarkDirty()
	return nil
}

func (r *Registry) sorted(keep func(address string) bool) []Checkpoint {
	checkpoints := make([]Checkpoint, 0, len(r.state.Worlds))
	for address, checkpoint := range r.state.Worlds {
		if keep(address) {
			checkpoints = append(checkpoints, checkpoint)
		}
	}
	slices.SortFunc(checkpoints, func(a, b Checkpoint) int {
		return cmp.Compare(a.Address, b.Address)
	})
	return checkpoints
}
