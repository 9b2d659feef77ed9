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

package membership

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	goset "github.com/deckarep/golang-set/v2"
	"go.uber.org/atomic"

	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/internal/metric"
	"github.com/jt7sku/koonti/internal/ticker"
	"github.com/jt7sku/koonti/log"
)

const (
	maxUpdateAttempts = 5
	// dead rows older than this are removed from the table
	defunctAfter = 24 * time.Hour
)

// EventType describes a membership change.
type EventType int

const (
	// SiloJoined is emitted when a silo becomes Active.
	SiloJoined EventType = iota + 1
	// SiloShuttingDown is emitted when a silo starts a graceful shutdown.
	SiloShuttingDown
	// SiloDead is emitted when a silo is declared dead or vanishes from the table.
	SiloDead
)

// Event is delivered to listeners after a refresh observed a change.
type Event struct {
	Type EventType
	Silo *SiloRecord
}

// Listener receives membership events. It runs on the refreshing goroutine
// and must not call back into the Directory's Refresh.
type Listener func(Event)

// Member describes the local silo.
type Member struct {
	ID             string
	Name           string
	Address        string
	GatewayAddress string
}

// Directory maintains the local view of the membership table for one silo.
// It publishes heartbeats, polls the table, declares stale silos dead and
// collects suspicion votes.
type Directory struct {
	table   Table
	config  *config.Config
	self    Member
	logger  log.Logger
	metrics *metric.SiloMetric

	mu          sync.RWMutex
	view        map[string]*SiloRecord
	lastRefresh time.Time
	listeners   []Listener
	onEvicted   func()

	refreshMu  sync.Mutex
	evicted    *atomic.Bool
	running    *atomic.Bool
	unhealthy  *atomic.Bool
	heartbeats *ticker.Ticker
	polls      *ticker.Ticker
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewDirectory creates a Directory for the given silo.
func NewDirectory(table Table, cfg *config.Config, self Member, metrics *metric.SiloMetric) *Directory {
	if metrics == nil {
		metrics = metric.NoopSiloMetric()
	}
	return &Directory{
		table:     table,
		config:    cfg,
		self:      self,
		logger:    cfg.Logger().With("silo", self.ID),
		metrics:   metrics,
		view:      make(map[string]*SiloRecord),
		evicted:   atomic.NewBool(false),
		running:   atomic.NewBool(false),
		unhealthy: atomic.NewBool(false),
	}
}

// Subscribe registers a listener for membership events.
func (d *Directory) Subscribe(listener Listener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, listener)
	d.mu.Unlock()
}

// OnEvicted sets the callback fired once when the local silo finds itself
// declared dead. It runs on its own goroutine.
func (d *Directory) OnEvicted(callback func()) {
	d.mu.Lock()
	d.onEvicted = callback
	d.mu.Unlock()
}

// Self returns the local member.
func (d *Directory) Self() Member {
	return d.self
}

// Join inserts the local silo as Joining, loads the view and starts the
// heartbeat and poll loops.
func (d *Directory) Join(ctx context.Context) error {
	now := time.Now()
	record := &SiloRecord{
		ClusterID:      d.config.ClusterID(),
		SiloID:         d.self.ID,
		Name:           d.self.Name,
		Address:        d.self.Address,
		GatewayAddress: d.self.GatewayAddress,
		Generation:     now.UnixNano(),
		Status:         Joining,
		StartedAt:      now,
		LastHeartbeat:  now,
	}

	d.logger.Infof("Silo (%s) joining cluster (%s)...", d.self.ID, d.config.ClusterID())
	if err := d.table.Insert(ctx, record); err != nil {
		return fmt.Errorf("membership: failed to join: %w", err)
	}

	if err := d.Refresh(ctx); err != nil {
		return fmt.Errorf("membership: failed to load view: %w", err)
	}

	d.start()
	d.logger.Infof("Silo (%s) joined cluster (%s).", d.self.ID, d.config.ClusterID())
	return nil
}

// SetStatus moves the local silo to status through a versioned update.
// A silo already declared dead cannot leave that state.
func (d *Directory) SetStatus(ctx context.Context, status Status) error {
	for range maxUpdateAttempts {
		record, err := d.table.Read(ctx, d.config.ClusterID(), d.self.ID)
		if err != nil {
			return err
		}

		if record.Status == Dead {
			return gerrors.ErrSiloNotRunning
		}

		if record.Status == status {
			return nil
		}

		record.Status = status
		if status == Dead {
			record.LastHeartbeat = time.Now()
		}

		err = d.table.Update(ctx, record, record.Version)
		if errors.Is(err, gerrors.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		d.logger.Infof("Silo (%s) status set to %s", d.self.ID, status)
		return d.Refresh(ctx)
	}
	return gerrors.ErrVersionConflict
}

// Leave stops the background loops and marks the local silo dead.
func (d *Directory) Leave(ctx context.Context) error {
	d.Stop()
	// the local Dead row must not trigger the eviction callback
	d.evicted.Store(true)
	err := d.SetStatus(ctx, Dead)
	if errors.Is(err, gerrors.ErrSiloNotRunning) {
		return nil
	}
	return err
}

// Stop halts the background loops without touching the table.
func (d *Directory) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stopCh)
	d.heartbeats.Stop()
	d.polls.Stop()
	d.wg.Wait()
}

// Heartbeat publishes an I-am-alive update for the local silo.
func (d *Directory) Heartbeat(ctx context.Context) error {
	return d.table.Heartbeat(ctx, d.config.ClusterID(), d.self.ID, time.Now())
}

// Refresh reloads the table, declares stale silos dead and notifies listeners
// of every change observed since the previous refresh.
func (d *Directory) Refresh(ctx context.Context) error {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	records, err := d.table.ReadAll(ctx, d.config.ClusterID())
	if err != nil {
		return err
	}

	now := time.Now()
	threshold := d.config.DeathThreshold()
	view := make(map[string]*SiloRecord, len(records))
	for _, record := range records {
		if record.SiloID != d.self.ID && record.IsAlive() && record.Stale(now, threshold) {
			if declared, err := d.declareDead(ctx, record.SiloID, "missed heartbeats"); err != nil {
				d.logger.Warnf("failed to declare silo (%s) dead: %v", record.SiloID, err)
			} else if declared != nil {
				record = declared
			}
		}

		if !record.IsAlive() && now.Sub(record.LastHeartbeat) > defunctAfter {
			if err := d.table.Delete(ctx, d.config.ClusterID(), record.SiloID); err != nil {
				d.logger.Warnf("failed to remove defunct silo (%s): %v", record.SiloID, err)
			}
			continue
		}
		view[record.SiloID] = record
	}

	d.mu.Lock()
	events := diff(d.view, view)
	d.view = view
	d.lastRefresh = now
	listeners := slices.Clone(d.listeners)
	onEvicted := d.onEvicted
	d.mu.Unlock()

	if d.unhealthy.CompareAndSwap(true, false) {
		d.logger.Info("membership view refreshed again")
	}

	self, ok := view[d.self.ID]
	if (!ok || !self.IsAlive()) && d.evicted.CompareAndSwap(false, true) {
		d.logger.Errorf("Silo (%s) has been declared dead by the cluster", d.self.ID)
		if onEvicted != nil {
			go onEvicted()
		}
	}

	for _, event := range events {
		for _, listener := range listeners {
			listener(event)
		}
	}
	return nil
}

// Suspect records a suspicion vote from the local silo against siloID. Once
// enough fresh votes are gathered the silo is declared dead.
func (d *Directory) Suspect(ctx context.Context, siloID string) error {
	if siloID == d.self.ID {
		return nil
	}

	window := d.config.DeathThreshold()
	for range maxUpdateAttempts {
		record, err := d.table.Read(ctx, d.config.ClusterID(), siloID)
		if err != nil {
			if errors.Is(err, gerrors.ErrSiloNotFound) {
				return nil
			}
			return err
		}

		if !record.IsAlive() {
			return nil
		}

		now := time.Now()
		votes := record.freshSuspicions(now, window)
		if !slices.ContainsFunc(votes, func(s Suspicion) bool { return s.SuspecterID == d.self.ID }) {
			votes = append(votes, Suspicion{SuspecterID: d.self.ID, At: now})
		}
		record.Suspicions = votes

		required := d.requiredVotes(siloID)
		if len(votes) >= required {
			record.Status = Dead
		}

		err = d.table.Update(ctx, record, record.Version)
		if errors.Is(err, gerrors.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		if record.Status == Dead {
			d.metrics.SiloDeclaredDead(ctx)
			d.logger.Warnf("Silo (%s) declared dead after %d suspicion vote(s)", siloID, len(votes))
			return d.Refresh(ctx)
		}

		d.logger.Infof("Silo (%s) suspected (%d/%d votes)", siloID, len(votes), required)
		return nil
	}
	return gerrors.ErrVersionConflict
}

// ListActive returns the Active silos of the current view ordered by id.
func (d *Directory) ListActive() []*SiloRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	active := make([]*SiloRecord, 0, len(d.view))
	for _, record := range d.view {
		if record.Status == Active {
			active = append(active, record.Clone())
		}
	}
	slices.SortFunc(active, func(a, b *SiloRecord) int {
		return strings.Compare(a.SiloID, b.SiloID)
	})
	return active
}

// ActiveIDs returns the ids of the Active silos of the current view.
func (d *Directory) ActiveIDs() goset.Set[string] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := goset.NewThreadUnsafeSet[string]()
	for id, record := range d.view {
		if record.Status == Active {
			ids.Add(id)
		}
	}
	return ids
}

// IsAlive reports whether siloID is known and not declared dead.
func (d *Directory) IsAlive(siloID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.view[siloID]
	return ok && record.IsAlive()
}

// Lookup returns the view's record of siloID.
func (d *Directory) Lookup(siloID string) (*SiloRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.view[siloID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Healthy returns ErrMembershipTimeout when the view has not been refreshed
// within the configured membership timeout.
func (d *Directory) Healthy() error {
	d.mu.RLock()
	last := d.lastRefresh
	d.mu.RUnlock()
	if last.IsZero() || time.Since(last) > d.config.MembershipTimeout() {
		return gerrors.ErrMembershipTimeout
	}
	return nil
}

// Evicted reports whether the local silo is no longer a member, either
// because it left or because the cluster declared it dead.
func (d *Directory) Evicted() bool {
	return d.evicted.Load()
}

func (d *Directory) requiredVotes(suspect string) int {
	d.mu.RLock()
	voters := 0
	for id, record := range d.view {
		if id != suspect && record.Status == Active {
			voters++
		}
	}
	d.mu.RUnlock()
	return max(1, min(d.config.VotesForDeath(), voters))
}

// declareDead marks siloID dead when it is still alive and stale. It returns
// the stored record, or nil when the silo recovered or another silo won.
func (d *Directory) declareDead(ctx context.Context, siloID, reason string) (*SiloRecord, error) {
	threshold := d.config.DeathThreshold()
	for range maxUpdateAttempts {
		record, err := d.table.Read(ctx, d.config.ClusterID(), siloID)
		if err != nil {
			return nil, err
		}
		if !record.IsAlive() {
			return record, nil
		}
		if !record.Stale(time.Now(), threshold) {
			return nil, nil
		}

		record.Status = Dead
		err = d.table.Update(ctx, record, record.Version)
		if errors.Is(err, gerrors.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		d.metrics.SiloDeclaredDead(ctx)
		d.logger.Warnf("Silo (%s) declared dead: %s", siloID, reason)
		return record, nil
	}
	return nil, gerrors.ErrVersionConflict
}

func (d *Directory) start() {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	d.stopCh = make(chan struct{})
	d.heartbeats = ticker.New(d.config.HeartbeatInterval())
	d.polls = ticker.New(d.config.PollInterval())
	d.heartbeats.Start()
	d.polls.Start()

	d.wg.Add(2)
	go d.heartbeatLoop()
	go d.pollLoop()
}

func (d *Directory) heartbeatLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.heartbeats.Ticks:
			ctx, cancel := context.WithTimeout(context.Background(), d.config.HeartbeatInterval())
			if err := d.Heartbeat(ctx); err != nil {
				d.logger.Warnf("failed to publish heartbeat: %v", err)
			}
			cancel()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Directory) pollLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.polls.Ticks:
			ctx, cancel := context.WithTimeout(context.Background(), d.config.PollInterval())
			if err := d.Refresh(ctx); err != nil {
				d.logger.Warnf("failed to refresh membership view: %v", err)
			}
			cancel()

			if err := d.Healthy(); err != nil && d.unhealthy.CompareAndSwap(false, true) {
				d.logger.Errorf("membership view is stale for more than %s: %v", d.config.MembershipTimeout(), err)
			}
		case <-d.stopCh:
			return
		}
	}
}

func diff(previous, current map[string]*SiloRecord) []Event {
	var events []Event
	for id, record := range current {
		before, known := previous[id]
		switch record.Status {
		case Active:
			if !known || before.Status != Active {
				events = append(events, Event{Type: SiloJoined, Silo: record.Clone()})
			}
		case ShuttingDown:
			if !known || before.Status != ShuttingDown {
				events = append(events, Event{Type: SiloShuttingDown, Silo: record.Clone()})
			}
		case Dead:
			if known && before.IsAlive() {
				events = append(events, Event{Type: SiloDead, Silo: record.Clone()})
			}
		}
	}

	for id, before := range previous {
		if _, ok := current[id]; !ok && before.IsAlive() {
			gone := before.Clone()
			gone.Status = Dead
			events = append(events, Event{Type: SiloDead, Silo: gone})
		}
	}
	return events
}
