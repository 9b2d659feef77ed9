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
	"context"

	"github.com/jt7sku/koonti/actor"
	"github.com/jt7sku/koonti/gateway"
	"github.com/jt7sku/koonti/identity"
)

// Client is the typed contract of the world registry of one entity type.
// It works over any gateway.Caller: a silo router or the external client.
type Client struct {
	caller gateway.Caller
	key    identity.ActorKey
}

// NewClient creates a Client for the registry of entityType.
func NewClient(caller gateway.Caller, entityType string) *Client {
	return &Client{caller: caller, key: Key(entityType)}
}

// CreateWorld registers a world and returns its id. blockNumber may be nil.
func (c *Client) CreateWorld(ctx context.Context, address string, blockNumber *int64) (string, error) {
	var id string
	err := c.call(ctx, MethodCreateWorld, &CreateWorldArgs{Address: address, BlockNumber: blockNumber}, &id)
	return id, err
}

// GetWorlds returns every known world sorted by address.
func (c *Client) GetWorlds(ctx context.Context) ([]Checkpoint, error) {
	var checkpoints []Checkpoint
	err := c.call(ctx, MethodGetWorlds, nil, &checkpoints)
	return checkpoints, err
}

// GetWorld returns the known worlds among addresses.
func (c *Client) GetWorld(ctx context.Context, addresses ...string) ([]Checkpoint, error) {
	var checkpoints []Checkpoint
	err := c.call(ctx, MethodGetWorld, addresses, &checkpoints)
	return checkpoints, err
}

func (c *Client) call(ctx context.Context, method string, request, reply any) error {
	var (
		args []byte
		err  error
	)
	if request != nil {
		if args, err = actor.EncodeArgs(request); err != nil {
			return err
		}
	}
	response, err := c.caller.Call(ctx, c.key, method, args)
	if err != nil {
		return err
	}
	return actor.DecodeArgs(response, reply)
}
