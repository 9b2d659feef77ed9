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
	"time"

	"github.com/flowchartsman/retry"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/metric"
	"github.com/jt7sku/koonti/internal/ticker"
	"github.com/jt7sku/koonti/internal/xsync"
	"github.com/jt7sku/koonti/log"
	"github.com/jt7sku/koonti/persistence"
	"github.com/jt7sku/koonti/placement"
)

const (
	activationRetries  = 3
	activationBackoff  = 50 * time.Millisecond
	minPassivationScan = 10 * time.Millisecond
)

// Engine hosts the activations of one silo.
//
// Activate registers the key in the activation directory before loading the
// state, so at most one silo of the cluster hosts a given key. Concurrent
// activations of the same key on this silo share a single attempt.
type Engine struct {
	siloID    string
	cfg       *config.Config
	store     persistence.Store
	directory *placement.Directory
	metrics   *metric.SiloMetric
	logger    log.Logger

	factories   *xsync.Map[string, Factory]
	activations *xsync.Map[identity.ActorKey, *Activation]
	activating  singleflight.Group

	passivator *ticker.Ticker
	started    atomic.Bool
	evicted    atomic.Bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewEngine creates the engine of siloID.
func NewEngine(siloID string, cfg *config.Config, store persistence.Store, directory *placement.Directory, opts ...Option) *Engine {
	engine := &Engine{
		siloID:      siloID,
		cfg:         cfg,
		store:       store,
		directory:   directory,
		metrics:     metric.NoopSiloMetric(),
		logger:      cfg.Logger(),
		factories:   xsync.NewMap[string, Factory](),
		activations: xsync.NewMap[identity.ActorKey, *Activation](),
	}

	for _, opt := range opts {
		opt.Apply(engine)
	}
	return engine
}

// Register binds actorType to factory. Registering a type twice replaces
// the factory for future activations.
func (e *Engine) Register(actorType string, factory Factory) {
	e.factories.Set(actorType, factory)
}

// Start enables activations and the idle passivation loop.
func (e *Engine) Start(context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	e.evicted.Store(false)

	if idle := e.cfg.IdleTimeout(); idle > 0 {
		e.passivator = ticker.New(max(idle/4, minPassivationScan))
		e.stopCh = make(chan struct{})
		e.doneCh = make(chan struct{})
		e.passivator.Start()
		go e.passivationLoop()
	}

	e.logger.Infof("actor engine of silo (%s) started", e.siloID)
	return nil
}

// Stop deactivates every activation, flushing dirty state, and stops the
// engine.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started.CompareAndSwap(true, false) {
		return nil
	}

	if e.passivator != nil {
		close(e.stopCh)
		<-e.doneCh
		e.passivator.Stop()
	}

	activations := e.activations.Values()
	errs := make([]error, len(activations))
	eg, ctx := errgroup.WithContext(ctx)
	for i, activation := range activations {
		eg.Go(func() error {
			errs[i] = e.Deactivate(ctx, activation)
			return nil
		})
	}
	_ = eg.Wait()

	if err := multierr.Combine(errs...); err != nil {
		e.logger.Errorf("actor engine of silo (%s) stopped with errors: %v", e.siloID, err)
		return err
	}

	e.logger.Infof("actor engine of silo (%s) stopped after deactivating %d actors", e.siloID, len(activations))
	return nil
}

// Evict drops every activation without flushing and refuses any further
// activation until the engine is started again. It is used when the silo
// learns it has been declared dead: another silo may already own its keys.
func (e *Engine) Evict() {
	e.evicted.Store(true)
	activations := e.activations.Values()
	for _, activation := range activations {
		if activation.active.CompareAndSwap(true, false) {
			e.activations.DeleteIf(activation.key, func(current *Activation) bool { return current == activation })
			close(activation.done)
		}
	}
	if len(activations) > 0 {
		e.logger.Warnf("silo (%s) evicted %d activations", e.siloID, len(activations))
	}
}

// Activations returns the live activations of this silo.
func (e *Engine) Activations() []*Activation {
	return e.activations.Values()
}

// Lookup returns the live local activation of key.
func (e *Engine) Lookup(key identity.ActorKey) (*Activation, bool) {
	activation, ok := e.activations.Get(key)
	if !ok || !activation.IsActive() {
		return nil, false
	}
	return activation, true
}

// Activate returns the activation of key on this silo, creating it when
// needed. When another live silo holds the key a *errors.NotOwnerError
// naming that silo is returned.
func (e *Engine) Activate(ctx context.Context, key identity.ActorKey) (*Activation, error) {
	if !e.started.Load() || e.evicted.Load() {
		return nil, gerrors.ErrSiloNotRunning
	}

	if err := key.Validate(); err != nil {
		return nil, err
	}

	factory, ok := e.factories.Get(key.Type)
	if !ok {
		return nil, gerrors.NewErrUnknownActorType(key.Type)
	}

	if activation, ok := e.Lookup(key); ok {
		return activation, nil
	}

	// the attempt is shared by every waiter and outlives the caller that started it
	attempt := e.activating.DoChan(key.String(), func() (any, error) {
		return e.activate(context.WithoutCancel(ctx), key, factory)
	})
	select {
	case result := <-attempt:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*Activation), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) activate(ctx context.Context, key identity.ActorKey, factory Factory) (*Activation, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ActivationTimeout())
	defer cancel()

	if existing, ok := e.activations.Get(key); ok {
		if existing.IsActive() {
			return existing, nil
		}
		// wait for the previous activation to release its directory entry
		select {
		case <-existing.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry, err := e.directory.Register(ctx, key.String(), e.siloID)
	if errors.Is(err, gerrors.ErrSiloNotRunning) {
		return nil, err
	}
	if err != nil {
		return nil, gerrors.NewErrActivationUnavailable(fmt.Errorf("register %s: %w", key, err))
	}

	if entry.SiloID != e.siloID {
		return nil, gerrors.NewNotOwnerError(key.String(), entry.SiloID)
	}

	activation := newActivation(e, key, entry, factory(key))
	activation.logger.Debugf("Activating actor %s ...", key)

	if err := activation.hydrate(ctx); err != nil {
		activation.logger.Errorf("Actor %s state could not be loaded: %v", key, err)
		e.unregister(entry)
		return nil, err
	}

	retrier := retry.NewRetrier(activationRetries, activationBackoff, e.cfg.ActivationTimeout())
	if err := retrier.RunContext(ctx, func(ctx context.Context) error {
		return activation.actor.OnActivate(newContext(ctx, activation))
	}); err != nil {
		activation.logger.Errorf("Actor %s activation failed: %v", key, err)
		e.unregister(entry)
		return nil, err
	}

	// an eviction may have landed while the state was loading
	if e.evicted.Load() {
		e.unregister(entry)
		return nil, gerrors.ErrSiloNotRunning
	}

	activation.latestReceiveTime.Store(time.Now())
	activation.active.Store(true)
	e.activations.Set(key, activation)
	e.metrics.Activated(ctx, key.Type)

	activation.logger.Debugf("Actor %s successfully activated with generation %d.", key, entry.Generation)
	return activation, nil
}

// Invoke runs method on activation and returns its result. The call is
// bounded by the configured call timeout; a timeout is reported as
// ErrActivationUnavailable so routers retry it once.
func (e *Engine) Invoke(ctx context.Context, activation *Activation, method string, args []byte) ([]byte, error) {
	if !activation.IsActive() {
		return nil, gerrors.ErrActivationDiscarded
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout())
	defer cancel()

	req := newRequest(ctx, method, args)
	activation.receive(req)

	select {
	case res := <-req.reply:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, gerrors.NewErrActivationUnavailable(errors.Join(gerrors.ErrRequestTimeout, ctx.Err()))
	}
}

// InvokeLocal activates key on this silo and runs method on it. An
// activation discarded between both steps is activated once more.
func (e *Engine) InvokeLocal(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		activation, err := e.Activate(ctx, key)
		if err != nil {
			return nil, err
		}

		payload, err := e.Invoke(ctx, activation, method, args)
		if errors.Is(err, gerrors.ErrActivationDiscarded) && attempt == 0 {
			continue
		}
		return payload, err
	}
}

// Deactivate flushes the state of activation, runs its OnDeactivate hook and
// releases its directory entry. Invocations queued before it still run.
func (e *Engine) Deactivate(ctx context.Context, activation *Activation) error {
	if !activation.IsActive() {
		return nil
	}

	req := newRequest(ctx, "", nil)
	req.deactivate = true
	activation.receive(req)

	select {
	case res := <-req.reply:
		if errors.Is(res.err, gerrors.ErrActivationDiscarded) {
			return nil
		}
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release tears activation down. A graceful release flushes the state and
// runs OnDeactivate first. It must run on the activation drain goroutine.
func (e *Engine) release(ctx context.Context, activation *Activation, graceful bool) error {
	if !activation.active.CompareAndSwap(true, false) {
		return nil
	}
	defer close(activation.done)

	var err error
	if graceful {
		activation.logger.Debugf("Deactivating actor %s ...", activation.key)
		err = multierr.Combine(
			activation.flush(ctx),
			activation.actor.OnDeactivate(newContext(ctx, activation)),
		)
	}

	// the directory entry goes first so a new activation never reuses it
	e.unregister(activation.entry)
	e.activations.DeleteIf(activation.key, func(current *Activation) bool { return current == activation })
	if invalidator, ok := e.store.(persistence.Invalidator); ok {
		invalidator.Invalidate(activation.key)
	}
	e.metrics.Deactivated(ctx, activation.key.Type)

	if err != nil {
		activation.logger.Errorf("Actor %s deactivated with error: %v", activation.key, err)
		return err
	}
	activation.logger.Debugf("Actor %s successfully deactivated.", activation.key)
	return nil
}

func (e *Engine) unregister(entry *placement.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ActivationTimeout())
	defer cancel()
	if err := e.directory.Unregister(ctx, entry); err != nil {
		e.logger.Warnf("failed to release activation entry (%s): %v", entry.Key, err)
	}
}

// passivationLoop deactivates activations idle for longer than the idle
// timeout.
func (e *Engine) passivationLoop() {
	defer close(e.doneCh)
	idleTimeout := e.cfg.IdleTimeout()
	for {
		select {
		case <-e.stopCh:
			return
		case now := <-e.passivator.Ticks:
			for _, activation := range e.activations.Values() {
				if !activation.IsActive() || !activation.idleSince(now, idleTimeout) {
					continue
				}
				activation.logger.Debugf("passivating idle actor %s", activation.key)
				req := newRequest(context.Background(), "", nil)
				req.deactivate = true
				activation.receive(req)
			}
		}
	}
}
