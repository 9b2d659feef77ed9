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

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jt7sku/koonti/actor"
	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/xsync"
	"github.com/jt7sku/koonti/log"
	"github.com/jt7sku/koonti/membership"
	"github.com/jt7sku/koonti/placement"
)

const (
	maxRedirects = 2

	breakerFailures = 3
	breakerTimeout  = 5 * time.Second
)

// Caller is what the HTTP layer and the cluster services use to reach an
// actor wherever it is activated.
type Caller interface {
	Call(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error)
}

// Transport forwards an invocation to another silo.
type Transport interface {
	Invoke(ctx context.Context, address string, key identity.ActorKey, method string, args []byte) ([]byte, error)
}

// Membership is the view of the cluster the router resolves silos with.
type Membership interface {
	Lookup(siloID string) (*membership.SiloRecord, bool)
	Suspect(ctx context.Context, siloID string) error
	Refresh(ctx context.Context) error
}

// Router sends calls to the silo hosting the target actor.
//
// The owner is the silo of the live activation directory entry or, when the
// key is not activated, the ring owner of the key. A call redirected with
// ErrNotOwner follows the winner. A call failing with
// ErrActivationUnavailable suspects the target, refreshes the membership
// view and is retried exactly once on the re-resolved owner.
type Router struct {
	selfID     string
	engine     *actor.Engine
	directory  *placement.Directory
	ring       *placement.Ring
	membership Membership
	transport  Transport
	cfg        *config.Config
	logger     log.Logger
	breakers   *xsync.Map[string, *gobreaker.CircuitBreaker]
}

var _ Caller = (*Router)(nil)

// NewRouter creates the Router of silo selfID.
func NewRouter(selfID string, engine *actor.Engine, directory *placement.Directory, ring *placement.Ring, membership Membership, transport Transport, cfg *config.Config) *Router {
	return &Router{
		selfID:     selfID,
		engine:     engine,
		directory:  directory,
		ring:       ring,
		membership: membership,
		transport:  transport,
		cfg:        cfg,
		logger:     cfg.Logger(),
		breakers:   xsync.NewMap[string, *gobreaker.CircuitBreaker](),
	}
}

// Owns reports whether this silo is the ring owner of key.
func (r *Router) Owns(key identity.ActorKey) bool {
	owner, ok := r.ring.Owner(key.String())
	return ok && owner == r.selfID
}

// Call invokes method on the actor of key. Each attempt is bounded by
// CallTimeout on its own, so an attempt that timed out is still retried
// while ctx is alive.
func (r *Router) Call(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	payload, target, err := r.attempt(ctx, key, method, args)
	if !errors.Is(err, gerrors.ErrActivationUnavailable) || ctx.Err() != nil {
		return payload, err
	}

	r.logger.Warnf("silo (%s) unavailable for %s, retrying once: %v", target, key, err)
	if target != "" && target != r.selfID && isTransportFailure(err) {
		if serr := r.membership.Suspect(ctx, target); serr != nil {
			r.logger.Debugf("failed to suspect silo (%s): %v", target, serr)
		}
	}
	if rerr := r.membership.Refresh(ctx); rerr != nil {
		r.logger.Warnf("failed to refresh membership: %v", rerr)
	}

	payload, _, err = r.attempt(ctx, key, method, args)
	return payload, err
}

// attempt resolves the owner of key and sends the call to it. It returns
// the silo that answered or failed last.
func (r *Router) attempt(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout())
	defer cancel()

	target, err := r.resolve(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return r.send(ctx, target, key, method, args)
}

// isTransportFailure reports whether err means the target silo could not
// be reached. An error the target itself answered with is not one.
func isTransportFailure(err error) bool {
	var remoteErr *gerrors.RemoteError
	return errors.Is(err, gerrors.ErrActivationUnavailable) && !errors.As(err, &remoteErr)
}

// resolve returns the silo expected to host key.
func (r *Router) resolve(ctx context.Context, key identity.ActorKey) (string, error) {
	entry, found, err := r.directory.Lookup(ctx, key.String())
	if err != nil {
		return "", gerrors.NewErrActivationUnavailable(err)
	}
	if found {
		return entry.SiloID, nil
	}

	owner, ok := r.ring.Owner(key.String())
	if !ok {
		return "", gerrors.NewErrActivationUnavailable(errors.New("no active silo"))
	}
	return owner, nil
}

// send calls siloID and follows ownership redirects. It returns the last
// silo called.
func (r *Router) send(ctx context.Context, siloID string, key identity.ActorKey, method string, args []byte) ([]byte, string, error) {
	for redirects := 0; ; redirects++ {
		payload, err := r.sendOnce(ctx, siloID, key, method, args)

		var notOwner *gerrors.NotOwnerError
		if errors.As(err, &notOwner) && redirects < maxRedirects && notOwner.Owner != siloID {
			r.logger.Debugf("%s is hosted by silo (%s), redirecting", key, notOwner.Owner)
			siloID = notOwner.Owner
			continue
		}
		return payload, siloID, err
	}
}

func (r *Router) sendOnce(ctx context.Context, siloID string, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	if siloID == r.selfID {
		return r.engine.InvokeLocal(ctx, key, method, args)
	}

	record, ok := r.membership.Lookup(siloID)
	if !ok || !record.IsAlive() {
		return nil, gerrors.NewErrActivationUnavailable(gerrors.NewErrSiloNotFound(siloID))
	}

	result, err := r.breaker(siloID).Execute(func() (any, error) {
		return r.transport.Invoke(ctx, record.Address, key, method, args)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, gerrors.NewErrActivationUnavailable(fmt.Errorf("silo (%s): %w", siloID, err))
		}
		return nil, err
	}
	payload, _ := result.([]byte)
	return payload, nil
}

// breaker returns the circuit breaker guarding siloID. Only transport
// failures count against it.
func (r *Router) breaker(siloID string) *gobreaker.CircuitBreaker {
	if cb, ok := r.breakers.Get(siloID); ok {
		return cb
	}
	cb, _ := r.breakers.GetOrSet(siloID, gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    siloID,
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return !isTransportFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Infof("circuit breaker of silo (%s) moved from %s to %s", name, from, to)
		},
	}))
	return cb
}

// Forget drops the breaker of a silo that left the cluster.
func (r *Router) Forget(siloID string) {
	r.breakers.Delete(siloID)
}
