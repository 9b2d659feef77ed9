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
	"sync"
	"sync/atomic"
)

// cacheLinePadding keeps head and tail on separate cache lines.
type cacheLinePadding [64]byte

type node struct {
	value atomic.Pointer[request]
	next  atomic.Pointer[node]
}

var nodePool = sync.Pool{New: func() any { return new(node) }}

// mailbox is a lock-free multi-producer single-consumer FIFO queue of
// invocations.
type mailbox struct {
	head atomic.Pointer[node]
	_    cacheLinePadding
	tail atomic.Pointer[node]
	_    cacheLinePadding
	len  atomic.Int64
}

func newMailbox() *mailbox {
	item := new(node)
	m := &mailbox{}
	m.head.Store(item)
	m.tail.Store(item)
	return m
}

// Enqueue places req at the tail. It is safe for concurrent producers.
func (m *mailbox) Enqueue(req *request) {
	n := nodePool.Get().(*node)
	n.value.Store(req)
	n.next.Store(nil)

	prev := m.tail.Swap(n)
	prev.next.Store(n)
	m.len.Add(1)
}

// Dequeue removes the request at the head or returns nil when the mailbox is
// empty. Only one consumer may call it at a time.
func (m *mailbox) Dequeue() *request {
	head := m.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil
	}

	m.head.Store(next)
	value := next.value.Load()
	next.value.Store(nil)
	m.len.Add(-1)

	head.next.Store(nil)
	head.value.Store(nil)
	nodePool.Put(head)
	return value
}

// Len returns the number of queued requests.
func (m *mailbox) Len() int64 {
	return m.len.Load()
}

// IsEmpty reports whether the mailbox holds no request.
func (m *mailbox) IsEmpty() bool {
	return m.Len() == 0
}
