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
	"sync"
)

// wakeupBuffer bounds the pending wake-ups of a notifier. Extra wake-ups are
// dropped; the poll loop catches up with them.
const wakeupBuffer = 256

// Notifier carries publish wake-ups between silos.
type Notifier interface {
	// Notify announces that topic received events.
	Notify(ctx context.Context, topic string) error
	// Wakeups returns the channel of announced topics.
	Wakeups() <-chan string
	// Close releases the notifier.
	Close() error
}

// LocalNotifier delivers wake-ups within the process. Silos sharing one
// LocalNotifier see each other's publishes.
type LocalNotifier struct {
	mu        sync.RWMutex
	own       chan string
	listeners []chan string
	closed    bool
}

var _ Notifier = (*LocalNotifier)(nil)

// NewLocalNotifier creates a LocalNotifier.
func NewLocalNotifier() *LocalNotifier {
	own := make(chan string, wakeupBuffer)
	return &LocalNotifier{own: own, listeners: []chan string{own}}
}

// Listener returns a Notifier view with its own wake-up channel. Closing a
// view leaves the shared notifier open.
func (n *LocalNotifier) Listener() Notifier {
	return &localListener{parent: n, wakeups: n.listen()}
}

// Notify implements Notifier.
func (n *LocalNotifier) Notify(_ context.Context, topic string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, listener := range n.listeners {
		select {
		case listener <- topic:
		default:
		}
	}
	return nil
}

// Wakeups implements Notifier.
func (n *LocalNotifier) Wakeups() <-chan string {
	return n.own
}

// Close implements Notifier.
func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		for _, listener := range n.listeners {
			close(listener)
		}
		n.listeners = nil
	}
	return nil
}

func (n *LocalNotifier) listen() chan string {
	n.mu.Lock()
	defer n.mu.Unlock()
	listener := make(chan string, wakeupBuffer)
	if n.closed {
		close(listener)
		return listener
	}
	n.listeners = append(n.listeners, listener)
	return listener
}

func (n *LocalNotifier) remove(listener chan string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, current := range n.listeners {
		if current == listener {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			close(listener)
			return
		}
	}
}

type localListener struct {
	parent  *LocalNotifier
	wakeups chan string
	once    sync.Once
}

func (l *localListener) Notify(ctx context.Context, topic string) error {
	return l.parent.Notify(ctx, topic)
}

func (l *localListener) Wakeups() <-chan string {
	return l.wakeups
}

func (l *localListener) Close() error {
	l.once.Do(func() { l.parent.remove(l.wakeups) })
	return nil
}
