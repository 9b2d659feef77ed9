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

	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/log"
)

const (
	// ReminderMethod is the method a reminder firing is delivered on.
	ReminderMethod = "__reminder"
	// EventMethod is the method a stream event is delivered on.
	EventMethod = "__event"
)

// Actor defines the contract of a virtual actor hosted by the Engine.
//
// An Actor is activated on demand on exactly one silo of the cluster and
// processes its invocations one at a time, in arrival order. The engine owns
// the persistence of its state:
//   - State returns a pointer to the value the engine decodes persisted
//     state into on activation and encodes when flushing.
//   - Receive handles one invocation. It must call Context.MarkDirty after
//     changing the state so the engine flushes it before replying.
//   - OnActivate runs once after the state has been loaded.
//   - OnDeactivate runs once before a graceful deactivation, after the final
//     flush.
//
// A Receive returning an error after marking the state dirty causes the
// activation to be discarded: the next invocation starts from the last
// persisted state.
type Actor interface {
	State() any
	OnActivate(ctx *Context) error
	Receive(ctx *Context, method string, args []byte) ([]byte, error)
	OnDeactivate(ctx *Context) error
}

// Factory creates the Actor instance of a key.
type Factory func(key identity.ActorKey) Actor

// Context is handed to the actor on every lifecycle hook and invocation.
// It must not be retained beyond the call.
type Context struct {
	ctx        context.Context
	activation *Activation
}

func newContext(ctx context.Context, activation *Activation) *Context {
	return &Context{ctx: ctx, activation: activation}
}

// Context returns the context of the current call.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Key returns the key of the actor.
func (c *Context) Key() identity.ActorKey {
	return c.activation.key
}

// SiloID returns the silo hosting the activation.
func (c *Context) SiloID() string {
	return c.activation.engine.siloID
}

// Logger returns the engine logger annotated with the actor key.
func (c *Context) Logger() log.Logger {
	return c.activation.logger
}

// MarkDirty records that the state changed during this turn.
func (c *Context) MarkDirty() {
	c.activation.dirty = true
}

// ClearState removes the persisted state on the next flush. The actor is
// expected to reset its in-memory state itself.
func (c *Context) ClearState() {
	c.activation.dirty = true
	c.activation.cleared = true
}
