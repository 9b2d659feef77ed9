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

// Package silo assembles a cluster member: the servers, the membership
// view, the placement, the actor engine, the router and the background
// reminder and stream services.
package silo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/jt7sku/koonti/actor"
	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/gateway"
	"github.com/jt7sku/koonti/hash"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/metric"
	"github.com/jt7sku/koonti/internal/xsync"
	"github.com/jt7sku/koonti/log"
	"github.com/jt7sku/koonti/membership"
	"github.com/jt7sku/koonti/persistence"
	"github.com/jt7sku/koonti/placement"
	"github.com/jt7sku/koonti/reminder"
	"github.com/jt7sku/koonti/remote"
	"github.com/jt7sku/koonti/stream"
	"github.com/jt7sku/koonti/stream/nats"
)

const (
	defaultStoreRetries = 3
	storeRetryInitial   = 50 * time.Millisecond
	storeRetryElapsed   = 2 * time.Second
)

// Silo is one member of the cluster.
//
// Start listens, joins the membership table as Joining, loads the view,
// starts the engine, turns Active and starts the reminder and stream
// services. Stop runs the same steps backwards: the background services
// stop, the silo turns ShuttingDown, flushes its activations, turns Dead and
// closes its listeners.
type Silo struct {
	id      string
	cfg     *config.Config
	backend *Backend
	logger  log.Logger

	meter          otelmetric.Meter
	metrics        *metric.SiloMetric
	stateCacheSize int
	storeRetries   uint64

	factories *xsync.Map[string, actor.Factory]

	membership  *membership.Directory
	ring        *placement.Ring
	activations *placement.Directory
	engine      *actor.Engine
	transport   *remote.Client
	router      *gateway.Router
	reminders   *reminder.Service
	notifier    stream.Notifier
	stream      *stream.Channel

	siloServer    *remote.Server
	gatewayServer *remote.Server

	mu      sync.Mutex
	started *atomic.Bool
	ready   *atomic.Bool
}

var (
	_ remote.Invoker = (*Silo)(nil)
	_ remote.Caller  = (*Silo)(nil)
)

// New creates a silo named after the configured silo name.
func New(cfg *config.Config, backend *Backend, opts ...Option) (*Silo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("silo: backend is required")
	}

	id := fmt.Sprintf("%s_%s", cfg.SiloName(), uuid.NewString())
	s := &Silo{
		id:           id,
		cfg:          cfg,
		backend:      backend,
		logger:       cfg.Logger().With("silo", id),
		storeRetries: defaultStoreRetries,
		factories:    xsync.NewMap[string, actor.Factory](),
		started:      atomic.NewBool(false),
		ready:        atomic.NewBool(false),
	}

	for _, opt := range opts {
		opt.Apply(s)
	}

	s.metrics = metric.NoopSiloMetric()
	if s.meter != nil {
		metrics, err := metric.NewSiloMetric(s.meter)
		if err != nil {
			return nil, fmt.Errorf("silo: failed to create instruments: %w", err)
		}
		s.metrics = metrics
	}

	s.transport = remote.NewClient(cfg.CallTimeout())
	s.siloServer = remote.NewServer("silo", cfg.SiloAddress(), s.logger)
	s.siloServer.Handle(remote.NewSiloHandler(s))
	s.gatewayServer = remote.NewServer("gateway", cfg.GatewayAddress(), s.logger)
	s.gatewayServer.Handle(remote.NewGatewayHandler(s))
	return s, nil
}

// ID returns the unique silo id.
func (s *Silo) ID() string {
	return s.id
}

// Register makes actorType activatable on this silo. It must be called
// before Start.
func (s *Silo) Register(actorType string, factory actor.Factory) {
	s.factories.Set(actorType, factory)
}

// Start joins the cluster and starts serving.
func (s *Silo) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return nil
	}

	s.logger.Infof("Starting silo (%s)...", s.id)
	if err := s.siloServer.Start(ctx); err != nil {
		return err
	}
	if err := s.gatewayServer.Start(ctx); err != nil {
		return multierr.Combine(err, s.siloServer.Stop(ctx))
	}

	if err := s.assemble(); err != nil {
		return multierr.Combine(err, s.closeServers(ctx))
	}

	if err := s.join(ctx); err != nil {
		if leaveErr := s.membership.Leave(ctx); leaveErr != nil {
			s.logger.Warnf("failed to leave the cluster after a failed start: %v", leaveErr)
		}
		return multierr.Combine(err, s.engine.Stop(ctx), s.notifier.Close(), s.closeServers(ctx))
	}

	s.started.Store(true)
	s.ready.Store(true)
	s.logger.Infof("Silo (%s) successfully started on %s (gateway %s).", s.id, s.siloServer.Address(), s.gatewayServer.Address())
	return nil
}

// Stop leaves the cluster gracefully, flushing every activation.
func (s *Silo) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started.Load() {
		return nil
	}

	s.logger.Infof("Stopping silo (%s)...", s.id)
	errs := []error{
		s.reminders.Stop(ctx),
		s.stream.Stop(ctx),
		s.notifier.Close(),
	}

	if !s.membership.Evicted() {
		errs = append(errs, ignoreNotRunning(s.membership.SetStatus(ctx, membership.ShuttingDown)))
	}
	errs = append(errs, s.engine.Stop(ctx))
	s.ready.Store(false)
	errs = append(errs, s.membership.Leave(ctx), s.closeServers(ctx))
	s.transport.Close()
	s.started.Store(false)

	if err := multierr.Combine(errs...); err != nil {
		s.logger.Errorf("Silo (%s) stopped with errors: %v", s.id, err)
		return err
	}
	s.logger.Infof("Silo (%s) successfully stopped.", s.id)
	return nil
}

// Router returns the caller reaching actors wherever they are activated.
func (s *Silo) Router() *gateway.Router {
	return s.router
}

// Reminders returns the reminder service.
func (s *Silo) Reminders() *reminder.Service {
	return s.reminders
}

// Stream returns the stream channel.
func (s *Silo) Stream() *stream.Channel {
	return s.stream
}

// Membership returns the membership view of the silo.
func (s *Silo) Membership() *membership.Directory {
	return s.membership
}

// Engine returns the actor engine hosting the local activations.
func (s *Silo) Engine() *actor.Engine {
	return s.engine
}

// SiloAddress returns the bound silo-to-silo address.
func (s *Silo) SiloAddress() string {
	return s.siloServer.Address()
}

// GatewayAddress returns the bound client gateway address.
func (s *Silo) GatewayAddress() string {
	return s.gatewayServer.Address()
}

// Healthy returns ErrMembershipTimeout when the membership view is stale and
// ErrSiloNotRunning when the silo is not serving.
func (s *Silo) Healthy() error {
	if !s.ready.Load() {
		return gerrors.ErrSiloNotRunning
	}
	return s.membership.Healthy()
}

// InvokeLocal implements remote.Invoker.
func (s *Silo) InvokeLocal(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	if !s.ready.Load() {
		return nil, gerrors.ErrSiloNotRunning
	}
	return s.engine.InvokeLocal(ctx, key, method, args)
}

// Call implements remote.Caller.
func (s *Silo) Call(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	if !s.ready.Load() {
		return nil, gerrors.ErrSiloNotRunning
	}
	return s.router.Call(ctx, key, method, args)
}

// assemble wires the components around the bound addresses.
func (s *Silo) assemble() error {
	self := membership.Member{
		ID:             s.id,
		Name:           s.cfg.SiloName(),
		Address:        s.siloServer.Address(),
		GatewayAddress: s.gatewayServer.Address(),
	}

	s.membership = membership.NewDirectory(s.backend.Membership, s.cfg, self, s.metrics)
	s.ring = placement.NewRing(s.cfg.VirtualNodes(), hash.DefaultHasher())
	s.activations = placement.NewDirectory(s.backend.Activations, s.membership, s.logger)

	store := persistence.Store(persistence.NewRetryStore(s.backend.State, s.storeRetries, storeRetryInitial, storeRetryElapsed))
	if s.stateCacheSize > 0 {
		cached, err := persistence.NewCachedStore(store, s.stateCacheSize)
		if err != nil {
			return err
		}
		store = cached
	}

	s.engine = actor.NewEngine(s.id, s.cfg, store, s.activations,
		actor.WithMetric(s.metrics),
		actor.WithLogger(s.logger))
	s.factories.Range(func(actorType string, factory actor.Factory) {
		s.engine.Register(actorType, factory)
	})

	s.router = gateway.NewRouter(s.id, s.engine, s.activations, s.ring, s.membership, s.transport, s.cfg)
	s.reminders = reminder.NewService(s.backend.Reminders, s.router, s.router, s.cfg, s.metrics)

	notifier, err := s.newNotifier()
	if err != nil {
		return err
	}
	s.notifier = notifier
	s.stream = stream.NewChannel(s.backend.Streams, notifier, s.router, s.router, s.cfg, s.metrics)

	s.membership.Subscribe(s.onMembershipEvent)
	s.membership.OnEvicted(s.onEvicted)
	return nil
}

// join runs the startup sequence once the servers listen.
func (s *Silo) join(ctx context.Context) error {
	if err := s.membership.Join(ctx); err != nil {
		return err
	}
	if err := s.engine.Start(ctx); err != nil {
		return err
	}
	if err := s.membership.SetStatus(ctx, membership.Active); err != nil {
		return err
	}
	s.updateRing()

	if err := s.reminders.Start(ctx); err != nil {
		return err
	}
	if err := s.stream.Start(ctx); err != nil {
		return multierr.Combine(err, s.reminders.Stop(ctx))
	}
	return nil
}

func (s *Silo) newNotifier() (stream.Notifier, error) {
	switch {
	case s.backend.Notifier != nil:
		return s.backend.Notifier(s.id)
	case s.cfg.NatsURL() != "":
		return nats.NewNotifier(s.cfg.NatsURL(), s.cfg.ClusterID(), s.id, s.logger)
	default:
		return stream.NewLocalNotifier(), nil
	}
}

func (s *Silo) onMembershipEvent(event membership.Event) {
	s.updateRing()
	if event.Type != membership.SiloDead || event.Silo.SiloID == s.id {
		return
	}

	s.router.Forget(event.Silo.SiloID)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ActivationTimeout())
	defer cancel()
	if err := s.activations.PurgeSilo(ctx, event.Silo.SiloID); err != nil {
		s.logger.Warnf("failed to purge activations of dead silo (%s): %v", event.Silo.SiloID, err)
	}
}

// onEvicted drops the local activations without flushing them: the keys may
// already be hosted elsewhere.
func (s *Silo) onEvicted() {
	s.logger.Errorf("Silo (%s) evicted from the cluster, dropping %d activations", s.id, len(s.engine.Activations()))
	s.ready.Store(false)
	s.engine.Evict()
	s.updateRing()
}

func (s *Silo) updateRing() {
	active := s.membership.ListActive()
	ids := make([]string, len(active))
	for i, record := range active {
		ids[i] = record.SiloID
	}
	s.ring.Update(ids)
}

func (s *Silo) closeServers(ctx context.Context) error {
	return multierr.Combine(s.gatewayServer.Stop(ctx), s.siloServer.Stop(ctx))
}

func ignoreNotRunning(err error) error {
	if errors.Is(err, gerrors.ErrSiloNotRunning) {
		return nil
	}
	return err
}
