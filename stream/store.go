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
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jt7sku/koonti/identity"
)

// Store keeps the topic logs, the subscriptions and the offset of every
// subscriber.
type Store interface {
	// Append adds payload to topic and returns the stored event.
	Append(ctx context.Context, topic string, payload []byte) (*Event, error)
	// ReadFrom returns at most limit events of topic with a sequence greater
	// than afterSeq, in sequence order.
	ReadFrom(ctx context.Context, topic string, afterSeq uint64, limit int) ([]*Event, error)
	// Subscribe registers key on topic. Subscribing twice is a no-op and a new
	// subscriber starts from the beginning of the topic.
	Subscribe(ctx context.Context, topic string, key identity.ActorKey) error
	// Unsubscribe removes the subscription and its offset.
	Unsubscribe(ctx context.Context, topic string, key identity.ActorKey) error
	// Subscribers lists the subscribers of topic.
	Subscribers(ctx context.Context, topic string) ([]identity.ActorKey, error)
	// Topics lists the topics with at least one subscriber.
	Topics(ctx context.Context) ([]string, error)
	// Offset returns the last sequence acknowledged by key on topic.
	Offset(ctx context.Context, topic string, key identity.ActorKey) (uint64, error)
	// Commit records that key acknowledged every event up to sequence.
	// Offsets never move backwards.
	Commit(ctx context.Context, topic string, key identity.ActorKey, sequence uint64) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu            sync.RWMutex
	logs          map[string][]*Event
	subscriptions map[string]map[identity.ActorKey]uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:          make(map[string][]*Event),
		subscriptions: make(map[string]map[identity.ActorKey]uint64),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, topic string, payload []byte) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event := &Event{
		Topic:       topic,
		Sequence:    uint64(len(s.logs[topic])) + 1,
		Payload:     slices.Clone(payload),
		PublishedAt: time.Now().UTC(),
	}
	s.logs[topic] = append(s.logs[topic], event)
	return event, nil
}

// ReadFrom implements Store.
func (s *MemoryStore) ReadFrom(ctx context.Context, topic string, afterSeq uint64, limit int) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[topic]
	if afterSeq >= uint64(len(log)) {
		return nil, nil
	}
	// sequence n lives at index n-1
	events := log[afterSeq:]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return slices.Clone(events), nil
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(ctx context.Context, topic string, key identity.ActorKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subscribers, ok := s.subscriptions[topic]
	if !ok {
		subscribers = make(map[identity.ActorKey]uint64)
		s.subscriptions[topic] = subscribers
	}
	if _, ok := subscribers[key]; !ok {
		subscribers[key] = 0
	}
	return nil
}

// Unsubscribe implements Store.
func (s *MemoryStore) Unsubscribe(ctx context.Context, topic string, key identity.ActorKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions[topic], key)
	if len(s.subscriptions[topic]) == 0 {
		delete(s.subscriptions, topic)
	}
	return nil
}

// Subscribers implements Store.
func (s *MemoryStore) Subscribers(ctx context.Context, topic string) ([]identity.ActorKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]identity.ActorKey, 0, len(s.subscriptions[topic]))
	for key := range s.subscriptions[topic] {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, compareKeys)
	return keys, nil
}

// Topics implements Store.
func (s *MemoryStore) Topics(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	topics := make([]string, 0, len(s.subscriptions))
	for topic := range s.subscriptions {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics, nil
}

// Offset implements Store.
func (s *MemoryStore) Offset(ctx context.Context, topic string, key identity.ActorKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions[topic][key], nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(ctx context.Context, topic string, key identity.ActorKey, sequence uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subscribers, ok := s.subscriptions[topic]
	if !ok {
		return nil
	}
	if current, ok := subscribers[key]; ok && sequence > current {
		subscribers[key] = sequence
	}
	return nil
}

func compareKeys(a, b identity.ActorKey) int {
	return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Key, b.Key))
}
