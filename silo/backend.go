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

package silo

import (
	"github.com/jt7sku/koonti/membership"
	"github.com/jt7sku/koonti/persistence"
	"github.com/jt7sku/koonti/placement"
	"github.com/jt7sku/koonti/plugins/bolt"
	"github.com/jt7sku/koonti/plugins/postgres"
	"github.com/jt7sku/koonti/reminder"
	"github.com/jt7sku/koonti/stream"
)

// NotifierFactory creates the stream wake-up notifier of one silo.
type NotifierFactory func(siloID string) (stream.Notifier, error)

// Backend bundles the tables shared by the silos of a cluster.
type Backend struct {
	Membership  membership.Table
	Activations placement.Table
	State       persistence.Store
	Reminders   reminder.Table
	Streams     stream.Store
	// Notifier is optional. Without it a silo uses NATS when the configuration
	// names a server and a notifier private to the silo otherwise.
	Notifier NotifierFactory
}

// NewMemoryBackend creates in-process tables. Silos of one process sharing
// the backend form a cluster and see each other's stream publishes.
func NewMemoryBackend() *Backend {
	notifier := stream.NewLocalNotifier()
	return &Backend{
		Membership:  membership.NewMemoryTable(),
		Activations: placement.NewMemoryTable(),
		State:       persistence.NewMemoryStore(),
		Reminders:   reminder.NewMemoryTable(),
		Streams:     stream.NewMemoryStore(),
		Notifier: func(string) (stream.Notifier, error) {
			return notifier.Listener(), nil
		},
	}
}

// NewBoltBackend keeps every table in db.
func NewBoltBackend(db *bolt.DB) *Backend {
	return &Backend{
		Membership:  bolt.NewMembershipTable(db),
		Activations: bolt.NewActivationTable(db),
		State:       bolt.NewStateStore(db),
		Reminders:   bolt.NewReminderTable(db),
		Streams:     bolt.NewStreamStore(db),
	}
}

// NewPostgresBackend keeps every table in a postgres database.
func NewPostgresBackend(db *postgres.DB) *Backend {
	return &Backend{
		Membership:  postgres.NewMembershipTable(db),
		Activations: postgres.NewActivationTable(db),
		State:       postgres.NewStateStore(db),
		Reminders:   postgres.NewReminderTable(db),
		Streams:     postgres.NewStreamStore(db),
	}
}
