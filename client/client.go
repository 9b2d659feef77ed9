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

package client

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/jt7sku/koonti/config"
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/ticker"
	"github.com/jt7sku/koonti/log"
	"github.com/jt7sku/koonti/membership"
	"github.com/jt7sku/koonti/remote"
)

// Transport sends a call to a gateway.
type Transport interface {
	Call(ctx context.Context, address string, key identity.ActorKey, method string, args []byte) ([]byte, error)
	Close()
}

var _ Transport = (*remote.Client)(nil)

// Client reaches the cluster from outside through its gateways. The gateway
// list is read from the membership table and refreshed periodically.
// An instance of the Client is safe for concurrent use.
// Make sure to call Close to free up resources
type Client struct {
	clusterID string
	table     membership.Table
	strategy  BalancerStrategy
	balancer  Balancer
	transport Transport
	logger    log.Logger
	refresher *ticker.Ticker

	locker   sync.RWMutex
	gateways []string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Client for the cluster described by cfg and loads the gateway list.
func New(ctx context.Context, table membership.Table, cfg *config.Config, opts ...Option) (*Client, error) {
	client := &Client{
		clusterID: cfg.ClusterID(),
		table:     table,
		strategy:  RoundRobinStrategy,
		logger:    cfg.Logger(),
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt.Apply(client)
	}

	if client.transport == nil {
		client.transport = remote.NewClient(cfg.CallTimeout())
	}
	client.balancer = getBalancer(client.strategy)

	if err := client.Refresh(ctx); err != nil {
		client.transport.Close()
		return nil, err
	}

	if period := cfg.GatewayRefreshPeriod(); period > 0 {
		client.refresher = ticker.New(period)
		client.refresher.Start()
		client.wg.Add(1)
		go client.refreshLoop()
	}

	return client, nil
}

// Call routes method on the actor of key through a gateway. It retries once
// on another gateway when the first one cannot serve the call.
func (x *Client) Call(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	gateway, ok := x.balancer.Next()
	if !ok {
		if err := x.Refresh(ctx); err != nil {
			return nil, err
		}
		if gateway, ok = x.balancer.Next(); !ok {
			return nil, gerrors.ErrNoGateway
		}
	}

	reply, err := x.transport.Call(ctx, gateway, key, method, args)
	if err == nil || !errors.Is(err, gerrors.ErrActivationUnavailable) {
		return reply, err
	}

	x.logger.Warnf("gateway=(%s) could not serve call on %s: %v", gateway, key.String(), err)
	if refreshErr := x.Refresh(ctx); refreshErr != nil {
		return nil, errors.Join(err, refreshErr)
	}

	next, ok := x.balancer.Next()
	if !ok {
		return nil, errors.Join(err, gerrors.ErrNoGateway)
	}
	if next == gateway {
		// prefer another gateway when there is one
		if next, ok = x.balancer.Next(); !ok {
			return nil, err
		}
	}
	return x.transport.Call(ctx, next, key, method, args)
}

// Refresh reloads the gateway addresses of the active silos.
func (x *Client) Refresh(ctx context.Context) error {
	records, err := x.table.ReadAll(ctx, x.clusterID)
	if err != nil {
		return err
	}

	gateways := make([]string, 0, len(records))
	for _, record := range records {
		if record.Status == membership.Active && record.GatewayAddress != "" {
			gateways = append(gateways, record.GatewayAddress)
		}
	}
	slices.Sort(gateways)
	gateways = slices.Compact(gateways)

	x.locker.Lock()
	changed := !slices.Equal(x.gateways, gateways)
	x.gateways = gateways
	x.locker.Unlock()

	if changed {
		x.balancer.Set(gateways...)
		x.logger.Debugf("gateway list refreshed: %v", gateways)
	}
	return nil
}

// Gateways returns the known gateway addresses.
func (x *Client) Gateways() []string {
	x.locker.RLock()
	defer x.locker.RUnlock()
	return slices.Clone(x.gateways)
}

// Close stops the refresh loop and releases the transport.
func (x *Client) Close() {
	x.locker.Lock()
	select {
	case <-x.stopCh:
		x.locker.Unlock()
		return
	default:
		close(x.stopCh)
	}
	x.locker.Unlock()

	if x.refresher != nil {
		x.refresher.Stop()
	}
	x.wg.Wait()
	x.transport.Close()
}

func (x *Client) refreshLoop() {
	defer x.wg.Done()
	for {
		select {
		case <-x.stopCh:
			return
		case <-x.refresher.Ticks:
			if err := x.Refresh(context.Background()); err != nil {
				x.logger.Warnf("failed to refresh gateway list: %v", err)
			}
		}
	}
}
