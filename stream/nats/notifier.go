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

// Package nats carries stream wake-ups between silos over NATS core
// subjects. Wake-ups are hints: a lost message only delays delivery until
// the next poll.
package nats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/nats-io/nats.go"

	"github.com/jt7sku/koonti/log"
	"github.com/jt7sku/koonti/stream"
)

const (
	maxConnectAttempts = 5
	wakeupBuffer       = 256
)

// Notifier is a stream.Notifier backed by a NATS connection.
type Notifier struct {
	conn         *nats.Conn
	subscription *nats.Subscription
	subject      string
	wakeups      chan string
	logger       log.Logger

	mu     sync.RWMutex
	closed bool
}

var _ stream.Notifier = (*Notifier)(nil)

// NewNotifier connects to url and listens to the wake-ups of clusterID.
func NewNotifier(url, clusterID, name string, logger log.Logger) (*Notifier, error) {
	if url == "" {
		return nil, errors.New("nats: url is required")
	}
	if logger == nil {
		logger = log.DiscardLogger
	}

	opts := nats.GetDefaultOptions()
	opts.Url = url
	opts.Name = name
	opts.ReconnectWait = 2 * time.Second
	opts.MaxReconnect = -1

	var conn *nats.Conn
	retrier := retry.NewRetrier(maxConnectAttempts, 100*time.Millisecond, opts.ReconnectWait)
	if err := retrier.Run(func() error {
		var err error
		conn, err = opts.Connect()
		return err
	}); err != nil {
		return nil, err
	}

	notifier := &Notifier{
		conn:    conn,
		subject: "koonti." + clusterID + ".stream",
		wakeups: make(chan string, wakeupBuffer),
		logger:  logger,
	}

	subscription, err := conn.Subscribe(notifier.subject, notifier.handle)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Flush(); err != nil {
		conn.Close()
		return nil, err
	}
	notifier.subscription = subscription
	logger.Infof("listening to stream wake-ups on %s", notifier.subject)
	return notifier, nil
}

// Notify implements stream.Notifier.
func (n *Notifier) Notify(_ context.Context, topic string) error {
	return n.conn.Publish(n.subject, []byte(topic))
}

// Wakeups implements stream.Notifier.
func (n *Notifier) Wakeups() <-chan string {
	return n.wakeups
}

// Close implements stream.Notifier.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	err := n.subscription.Unsubscribe()
	n.conn.Close()
	close(n.wakeups)
	return err
}

func (n *Notifier) handle(msg *nats.Msg) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.wakeups <- string(msg.Data):
	default:
		n.logger.Debug("dropping stream wake-up, buffer is full")
	}
}
