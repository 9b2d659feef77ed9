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
	"fmt"
	"runtime"
	"time"

	"go.uber.org/atomic"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/codec"
	"github.com/jt7sku/koonti/log"
	"github.com/jt7sku/koonti/placement"
)

const (
	idle int32 = iota
	busy
)

type request struct {
	ctx        context.Context
	method     string
	args       []byte
	deactivate bool
	reply      chan response
}

type response struct {
	payload []byte
	err     error
}

func newRequest(ctx context.Context, method string, args []byte) *request {
	return &request{
		ctx:    ctx,
		method: method,
		args:   args,
		reply:  make(chan response, 1),
	}
}

// Activation is the single live in-memory instance of an actor in the
// cluster. Its turns run on one drain goroutine at a time.
type Activation struct {
	key    identity.ActorKey
	entry  *placement.Entry
	actor  Actor
	engine *Engine
	logger log.Logger

	mailbox    *mailbox
	processing atomic.Int32
	active     atomic.Bool
	done       chan struct{}

	latestReceiveTime atomic.Time

	// owned by the drain goroutine once the activation is published
	version int64
	dirty   bool
	cleared bool
}

func newActivation(engine *Engine, key identity.ActorKey, entry *placement.Entry, actor Actor) *Activation {
	activation := &Activation{
		key:     key,
		entry:   entry,
		actor:   actor,
		engine:  engine,
		logger:  engine.logger.With("actor", key.String()),
		mailbox: newMailbox(),
		done:    make(chan struct{}),
	}
	activation.processing.Store(idle)
	return activation
}

// Key returns the key of the activated actor.
func (a *Activation) Key() identity.ActorKey {
	return a.key
}

// SiloID returns the silo hosting the activation.
func (a *Activation) SiloID() string {
	return a.entry.SiloID
}

// Generation returns the activation directory generation of this activation.
func (a *Activation) Generation() int64 {
	return a.entry.Generation
}

// IsActive reports whether the activation still accepts invocations.
func (a *Activation) IsActive() bool {
	return a != nil && a.active.Load()
}

// hydrate loads the persisted state of the actor. A missing record leaves
// the actor with its default state.
func (a *Activation) hydrate(ctx context.Context) error {
	record, err := a.engine.store.Read(ctx, a.key)
	if err != nil {
		if errors.Is(err, gerrors.ErrNotFound) {
			a.version = 0
			return nil
		}
		return err
	}

	if err := codec.Decode(record.State, a.actor.State()); err != nil {
		return gerrors.NewErrCorruptedState(a.key.String(), err)
	}
	a.version = record.Version
	return nil
}

// flush writes the state when the last turn changed it.
func (a *Activation) flush(ctx context.Context) error {
	if !a.dirty {
		return nil
	}

	if a.cleared {
		if a.version > 0 {
			if err := a.engine.store.Delete(ctx, a.key, a.version); err != nil {
				return err
			}
		}
		a.version = 0
		a.dirty = false
		a.cleared = false
		return nil
	}

	frame, err := codec.Encode(a.actor.State())
	if err != nil {
		return err
	}

	version, err := a.engine.store.Write(ctx, a.key, frame, a.version)
	if err != nil {
		return err
	}
	a.version = version
	a.dirty = false
	return nil
}

// receive queues req and makes sure a drain goroutine is running.
func (a *Activation) receive(req *request) {
	a.mailbox.Enqueue(req)
	a.process()
}

// process drains the mailbox on a single goroutine.
func (a *Activation) process() {
	// Only start a drain loop when transitioning from idle -> busy.
	if !a.processing.CompareAndSwap(idle, busy) {
		return
	}

	go func() {
		for {
			for req := a.mailbox.Dequeue(); req != nil; req = a.mailbox.Dequeue() {
				a.handle(req)
			}

			a.processing.Store(idle)

			// pick up requests queued while switching to idle
			if !a.mailbox.IsEmpty() && a.processing.CompareAndSwap(idle, busy) {
				continue
			}
			return
		}
	}()
}

func (a *Activation) handle(req *request) {
	if !a.IsActive() {
		req.reply <- response{err: gerrors.ErrActivationDiscarded}
		return
	}

	if err := req.ctx.Err(); err != nil {
		req.reply <- response{err: err}
		return
	}

	// flushing must survive a caller giving up on the reply
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(req.ctx), a.engine.cfg.CallTimeout())
	defer cancel()

	if req.deactivate {
		req.reply <- response{err: a.engine.release(flushCtx, a, true)}
		return
	}

	a.latestReceiveTime.Store(time.Now())
	payload, err := a.turn(req)
	a.engine.metrics.Invoked(req.ctx, a.key.Type, err)

	if err != nil {
		var panicErr *gerrors.PanicError
		if a.dirty || errors.As(err, &panicErr) {
			a.logger.Warnf("discarding activation after failed turn (%s): %v", req.method, err)
			_ = a.engine.release(flushCtx, a, false)
		}
		req.reply <- response{err: err}
		return
	}

	// evicted during the turn: the key may already live on another silo
	if !a.IsActive() {
		req.reply <- response{err: gerrors.ErrActivationDiscarded}
		return
	}

	if err := a.flush(flushCtx); err != nil {
		a.logger.Errorf("failed to flush state, discarding activation: %v", err)
		_ = a.engine.release(flushCtx, a, false)
		req.reply <- response{err: err}
		return
	}

	req.reply <- response{payload: payload}
}

// turn runs one invocation and turns a panic into a PanicError.
func (a *Activation) turn(req *request) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return a.actor.Receive(newContext(req.ctx, a), req.method, req.args)
}

func recovered(r any) error {
	pc, fn, line, _ := runtime.Caller(3)
	switch v := r.(type) {
	case *gerrors.PanicError:
		return v
	case error:
		return gerrors.NewPanicError(fmt.Errorf("%w at %s[%s:%d]", v, runtime.FuncForPC(pc).Name(), fn, line))
	default:
		return gerrors.NewPanicError(fmt.Errorf("%#v at %s[%s:%d]", r, runtime.FuncForPC(pc).Name(), fn, line))
	}
}

// idleSince reports whether the activation has been idle for at least d.
func (a *Activation) idleSince(now time.Time, d time.Duration) bool {
	return a.mailbox.IsEmpty() &&
		a.processing.Load() == idle &&
		now.Sub(a.latestReceiveTime.Load()) >= d
}
