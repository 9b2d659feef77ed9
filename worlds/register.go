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
	"github.com/jt7sku/koonti/stream"
)

// Registrar hosts actor factories. Both actor.Engine and silo.Silo satisfy it.
type Registrar interface {
	Register(actorType string, factory actor.Factory)
}

// Register adds the registry of every entity type to registrar.
func Register(registrar Registrar) {
	for _, entityType := range EntityTypes {
		registrar.Register(entityType, New)
	}
}

// Subscribe subscribes the registry of every entity type to its topic.
func Subscribe(ctx context.Context, channel *stream.Channel) error {
	for _, entityType := range EntityTypes {
		if err := channel.Subscribe(ctx, Topic(entityType), Key(entityType)); err != nil {
			return err
		}
	}
	return nil
}

// Publish appends a block observation to the topic of entityType.
func Publish(ctx context.Context, channel *stream.Channel, entityType string, observed BlockObserved) (*stream.Event, error) {
	payload, err := actor.EncodeArgs(&observed)
	if err != nil {
		return nil, err
	}
	return channel.Publish(ctx, Topic(entityType), payload)
}
