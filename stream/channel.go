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

	"go.uber.org/atomic"

	"github.com/jt7sku/koonti/actor"
	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/metric"
	"github.com/jt7sku/koonti/internal/ticker"
	"github.com/jt7sku/koonti/log"
)

// Caller invokes an actor wherever it is activated.
type Caller interface {
	Call(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error)
}

// Ownership reports whether this silo delivers the events of a subscriber.
type Ownership interface {
	Owns(key identity.ActorKey) bool
}

type pumpID struct {
	topic string
	key   identity.ActorKey
}

type pump struct {
	rerun bool
}

// Channel is the event ingestion channel of one silo.
//
// Every (topic, subscriber) pair is pumped by the silo owning the subscriber
// on the ring. A pump delivers events in sequence order and commits the
// offset only after the actor accepted the event, so delivery is
// at-least-once. A failed delivery stops the pump until the next wake-up or
// poll.
type Channel struct {
	store     Store
	notifier  Notifier
	caller    Caller
	ownership Ownership
	cfg       *config.Config
	logger    log.Logger
	metrics   *metric.SiloMetric

	mu      sync.Mutex
	pumps   map[pumpID]*pump
	wg      sync.WaitGroup
	started atomic.Bool
	poller  *ticker.Ticker
	ctx     context.Context
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewChannel creates a Channel.
func NewChannel(store Store, notifier Notifier, caller Caller, ownership Ownership, cfg *config.Config, metrics *metric.SiloMetric) *Channel {
	if metrics == nil {
		metrics = metric.NoopSiloMetric()
	}
	return &Channel{
		store:     store,
		notifier:  notifier,
		caller:    caller,
		ownership: ownership,
		cfg:       cfg,
		logger:    cfg.Logger(),
		metrics:   metrics,
		pumps:     make(map[pumpID]*pump),
	}
}

// Publish appends payload to topic and wakes up the pumps of its
// subscribers.
func (c *Channel) Publish(ctx context.Context, topic string, payload []byte) (*Event, error) {
	if topic == "" {
		return nil, gerrors.NewErrInvalidArgument(errors.New("topic is required"))
	}

	event, err := c.store.Append(ctx, topic, payload)
	if err != nil {
		return nil, err
	}

	if err := c.notifier.Notify(ctx, topic); err != nil {
		// the poll loop still picks the event up
		c.logger.Warnf("failed to notify topic (%s): %v", topic, err)
	}
	return event, nil
}

// Subscribe registers key on topic.
func (c *Channel) Subscribe(ctx context.Context, topic string, key identity.ActorKey) error {
	if topic == "" {
		return gerrors.NewErrInvalidArgument(errors.New("topic is required"))
	}
	if err := key.Validate(); err != nil {
		return err
	}
	if err := c.store.Subscribe(ctx, topic, key); err != nil {
		return err
	}
	if c.started.Load() && c.ownership.Owns(key) {
		c.kick(topic, key)
	}
	return nil
}

// Unsubscribe removes the subscription of key on topic.
func (c *Channel) Unsubscribe(ctx context.Context, topic string, key identity.ActorKey) error {
	return c.store.Unsubscribe(ctx, topic, key)
}

// Start runs the wake-up and poll loops.
func (c *Channel) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Unlock()

	c.poller = ticker.New(c.cfg.StreamPollInterval())
	c.doneCh = make(chan struct{})
	c.poller.Start()
	go c.loop()

	c.logger.Info("event channel started.")
	return nil
}

// Stop stops the loops and waits for the running pumps.
func (c *Channel) Stop(context.Context) error {
	if !c.started.CompareAndSwap(true, false) {
		return nil
	}

	c.cancel()
	<-c.doneCh
	c.poller.Stop()
	c.wg.Wait()

	c.logger.Info("event channel stopped.")
	return nil
}

func (c *Channel) loop() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.ctx.Done():
			return
		case topic, ok := <-c.notifier.Wakeups():
			if !ok {
				c.logger.Warn("notifier closed, falling back to polling")
				c.pollOnly()
				return
			}
			c.wake(topic)
		case <-c.poller.Ticks:
			c.poll()
		}
	}
}

func (c *Channel) pollOnly() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.poller.Ticks:
			c.poll()
		}
	}
}

// poll wakes up every topic.
func (c *Channel) poll() {
	topics, err := c.store.Topics(c.ctx)
	if err != nil {
		c.logger.Warnf("failed to list topics: %v", err)
		return
	}
	for _, topic := range topics {
		c.wake(topic)
	}
}

// wake starts the pumps of the subscribers of topic owned by this silo.
func (c *Channel) wake(topic string) {
	subscribers, err := c.store.Subscribers(c.ctx, topic)
	if err != nil {
		c.logger.Warnf("failed to list subscribers of topic (%s): %v", topic, err)
		return
	}
	for _, key := range subscribers {
		if c.ownership.Owns(key) {
			c.kick(topic, key)
		}
	}
}

// kick starts the pump of (topic, key) or asks the running one to read
// again once it drained the topic.
func (c *Channel) kick(topic string, key identity.ActorKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil || c.ctx.Err() != nil {
		return
	}

	id := pumpID{topic: topic, key: key}
	if running, ok := c.pumps[id]; ok {
		running.rerun = true
		return
	}

	p := new(pump)
	c.pumps[id] = p
	c.wg.Add(1)
	go c.run(id, p)
}

func (c *Channel) run(id pumpID, p *pump) {
	defer c.wg.Done()
	for {
		err := c.drain(id)

		c.mu.Lock()
		if err == nil && p.rerun {
			p.rerun = false
			c.mu.Unlock()
			continue
		}
		delete(c.pumps, id)
		c.mu.Unlock()
		return
	}
}

// drain delivers the pending events of one subscriber.
func (c *Channel) drain(id pumpID) error {
	offset, err := c.store.Offset(c.ctx, id.topic, id.key)
	if err != nil {
		return err
	}

	for {
		events, err := c.store.ReadFrom(c.ctx, id.topic, offset, c.cfg.StreamBatchSize())
		if err != nil || len(events) == 0 {
			return err
		}

		for _, event := range events {
			if err := c.deliver(id, event); err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.Warnf("event %d of topic (%s) not accepted by %s: %v", event.Sequence, id.topic, id.key, err)
				}
				return err
			}
			offset = event.Sequence
		}
	}
}

func (c *Channel) deliver(id pumpID, event *Event) error {
	args, err := encodeEvent(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout())
	defer cancel()

	if _, err := c.caller.Call(ctx, id.key, actor.EventMethod, args); err != nil && !errors.Is(err, gerrors.ErrDuplicateEvent) {
		return err
	}

	c.metrics.EventDelivered(ctx, id.topic)
	return c.store.Commit(ctx, id.topic, id.key, event.Sequence)
}
