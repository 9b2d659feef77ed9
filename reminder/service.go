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

package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	goset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/jt7sku/koonti/actor"
	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/metric"
	"github.com/jt7sku/koonti/internal/xsync"
	"github.com/jt7sku/koonti/log"
)

// maxRetryBackoff bounds the delay between two firings of a reminder the
// actor does not acknowledge.
const maxRetryBackoff = time.Minute

// Caller invokes an actor wherever it is activated.
type Caller interface {
	Call(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error)
}

// Ownership reports whether this silo fires the reminders of a key.
type Ownership interface {
	Owns(key identity.ActorKey) bool
}

// Service registers reminders and fires the ones owned by this silo.
//
// A scan job lists due reminders every scan interval. Each firing runs on
// its own worker; when every worker is busy the remaining reminders wait
// for the next scan. A reminder is rescheduled only after the actor
// acknowledged the firing, so a silo crashing mid-delivery leaves it due for
// the next owner. An unacknowledged reminder is retried with an exponential
// backoff kept by this silo, and a reminder of an unknown actor type is
// dropped.
type Service struct {
	table     Table
	caller    Caller
	ownership Ownership
	cfg       *config.Config
	logger    log.Logger
	metrics   *metric.SiloMetric

	mu        sync.Mutex
	scheduler quartz.Scheduler
	workers   *errgroup.Group
	inflight  goset.Set[string]
	retries   *xsync.Map[string, retryState]
	scanning  atomic.Bool
	started   atomic.Bool
	cancel    context.CancelFunc
}

// NewService creates a reminder Service.
func NewService(table Table, caller Caller, ownership Ownership, cfg *config.Config, metrics *metric.SiloMetric) *Service {
	if metrics == nil {
		metrics = metric.NoopSiloMetric()
	}
	return &Service{
		table:     table,
		caller:    caller,
		ownership: ownership,
		cfg:       cfg,
		logger:    cfg.Logger(),
		metrics:   metrics,
		inflight:  goset.NewSet[string](),
		retries:   xsync.NewMap[string, retryState](),
	}
}

// retryState delays the next firing of a reminder after a failed one.
type retryState struct {
	due     time.Time
	at      time.Time
	backoff *backoff.ExponentialBackOff
}

// Register creates or replaces the reminder name of key. It first fires
// after dueTime and then every period; a zero period fires once.
func (s *Service) Register(ctx context.Context, key identity.ActorKey, name string, dueTime, period time.Duration) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if name == "" || dueTime < 0 || period < 0 {
		return nil, gerrors.ErrInvalidReminder
	}

	entry := &Entry{
		Key:     key,
		Name:    name,
		DueTime: time.Now().Add(dueTime).UTC(),
		Period:  period,
	}
	if err := s.table.Upsert(ctx, entry); err != nil {
		return nil, err
	}
	s.logger.Debugf("reminder (%s) registered, due at %s", entry.ID(), entry.DueTime.Format(time.RFC3339))
	return entry, nil
}

// Cancel removes the reminder name of key.
func (s *Service) Cancel(ctx context.Context, key identity.ActorKey, name string) error {
	return s.table.Delete(ctx, key, name)
}

// Get returns the reminder name of key.
func (s *Service) Get(ctx context.Context, key identity.ActorKey, name string) (*Entry, error) {
	return s.table.Get(ctx, key, name)
}

// Start schedules the scan job.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return nil
	}

	scheduler, err := quartz.NewStdScheduler(quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	workers := new(errgroup.Group)
	workers.SetLimit(s.cfg.ReminderConcurrency())

	scanJob := job.NewFunctionJob[int](func(context.Context) (int, error) {
		return s.scan(ctx)
	})

	scheduler.Start(ctx)
	detail := quartz.NewJobDetail(scanJob, quartz.NewJobKey("reminders-"+uuid.NewString()))
	if err := scheduler.ScheduleJob(detail, quartz.NewSimpleTrigger(s.cfg.ReminderScanInterval())); err != nil {
		cancel()
		scheduler.Stop()
		return err
	}

	s.scheduler = scheduler
	s.workers = workers
	s.cancel = cancel
	s.started.Store(true)
	s.logger.Info("reminder service started.")
	return nil
}

// Stop stops scanning and waits for the firings in flight.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started.Load() {
		return nil
	}
	s.started.Store(false)

	_ = s.scheduler.Clear()
	s.scheduler.Stop()
	s.scheduler.Wait(ctx)
	s.cancel()
	_ = s.workers.Wait()

	s.logger.Info("reminder service stopped.")
	return nil
}

// scan dispatches the due reminders owned by this silo and returns how many
// firings it started.
//
// The listing window doubles while every listed reminder was skipped, so
// reminders of other silos or waiting for a retry never hide the others.
func (s *Service) scan(ctx context.Context) (int, error) {
	// a slow table must not stack scans
	if !s.scanning.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.scanning.Store(false)

	now := time.Now()
	started := 0
	for limit := s.cfg.ReminderConcurrency() * 4; ; limit *= 2 {
		due, err := s.table.ListDue(ctx, now, limit)
		if err != nil {
			s.logger.Warnf("failed to list due reminders: %v", err)
			return started, err
		}

		for _, entry := range due {
			id := entry.ID()
			if !s.ownership.Owns(entry.Key) {
				s.retries.Delete(id)
				continue
			}
			if retry, ok := s.retries.Get(id); ok && retry.due.Equal(entry.DueTime) && now.Before(retry.at) {
				continue
			}
			if !s.inflight.Add(id) {
				continue
			}

			if !s.workers.TryGo(func() error {
				defer s.inflight.Remove(id)
				s.fire(ctx, entry)
				return nil
			}) {
				// every worker is busy
				s.inflight.Remove(id)
				return started, nil
			}
			started++
		}

		if len(due) < limit {
			return started, nil
		}
	}
}

// fire delivers one reminder and reschedules it once acknowledged.
func (s *Service) fire(ctx context.Context, entry *Entry) {
	now := time.Now()
	args, err := encodeTick(&Tick{
		Name:    entry.Name,
		DueTime: entry.DueTime,
		Period:  entry.Period,
		FiredAt: now.UTC(),
	})
	if err != nil {
		s.logger.Errorf("failed to encode reminder (%s): %v", entry.ID(), err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout())
	defer cancel()

	if _, err := s.caller.Call(callCtx, entry.Key, actor.ReminderMethod, args); err != nil {
		s.failed(ctx, entry, now, err)
		return
	}

	s.retries.Delete(entry.ID())
	s.metrics.ReminderFired(ctx, entry.Key.Type)
	rescheduled, err := s.table.Reschedule(ctx, entry.Key, entry.Name, entry.DueTime, entry.next(now))
	switch {
	case err != nil:
		s.logger.Warnf("failed to reschedule reminder (%s): %v", entry.ID(), err)
	case !rescheduled:
		s.logger.Debugf("reminder (%s) changed while firing", entry.ID())
	}
}

// failed handles a firing the actor did not acknowledge.
func (s *Service) failed(ctx context.Context, entry *Entry, now time.Time, err error) {
	id := entry.ID()
	if ctx.Err() != nil {
		return
	}

	if errors.Is(err, gerrors.ErrUnknownActorType) {
		s.retries.Delete(id)
		// a zero next due removes the reminder unless it was registered again meanwhile
		if _, derr := s.table.Reschedule(ctx, entry.Key, entry.Name, entry.DueTime, time.Time{}); derr != nil {
			s.logger.Warnf("failed to drop reminder (%s): %v", id, derr)
			return
		}
		s.logger.Warnf("dropped reminder (%s): %v", id, err)
		return
	}

	retry, ok := s.retries.Get(id)
	if !ok || !retry.due.Equal(entry.DueTime) {
		retry = retryState{due: entry.DueTime, backoff: s.retryBackoff()}
	}
	delay := retry.backoff.NextBackOff()
	retry.at = now.Add(delay)
	s.retries.Set(id, retry)
	s.logger.Warnf("reminder (%s) not acknowledged, retrying in %s: %v", id, delay, err)
}

func (s *Service) retryBackoff() *backoff.ExponentialBackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = s.cfg.ReminderScanInterval()
	exponential.MaxInterval = max(maxRetryBackoff, exponential.InitialInterval)
	exponential.MaxElapsedTime = 0
	exponential.Reset()
	return exponential
}
