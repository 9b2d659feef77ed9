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

package config

import (
	"time"

	"github.com/jt7sku/koonti/log"
)

// Option is the interface that applies a configuration option.
type Option interface {
	// Apply sets the Option value of a config.
	Apply(config *Config)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(config *Config)

// Apply applies the option to the config.
func (f OptionFunc) Apply(c *Config) {
	f(c)
}

// WithClusterID sets the cluster id
func WithClusterID(id string) Option {
	return OptionFunc(func(c *Config) { c.clusterID = id })
}

// WithServiceID sets the service id
func WithServiceID(id string) Option {
	return OptionFunc(func(c *Config) { c.serviceID = id })
}

// WithSiloName sets the silo name prefix
func WithSiloName(name string) Option {
	return OptionFunc(func(c *Config) { c.siloName = name })
}

// WithHost sets the advertised host
func WithHost(host string) Option {
	return OptionFunc(func(c *Config) { c.host = host })
}

// WithSiloPort sets the silo-to-silo port
func WithSiloPort(port int) Option {
	return OptionFunc(func(c *Config) { c.siloPort = port })
}

// WithGatewayPort sets the gateway port
func WithGatewayPort(port int) Option {
	return OptionFunc(func(c *Config) { c.gatewayPort = port })
}

// WithStorageConnectionString sets the postgres connection string
func WithStorageConnectionString(dsn string) Option {
	return OptionFunc(func(c *Config) { c.storageConnectionString = dsn })
}

// WithNatsURL sets the NATS server url
func WithNatsURL(url string) Option {
	return OptionFunc(func(c *Config) { c.natsURL = url })
}

// WithHeartbeat sets the heartbeat interval and the missed heartbeats limit
func WithHeartbeat(interval time.Duration, missedLimit int) Option {
	return OptionFunc(func(c *Config) {
		c.heartbeatInterval = interval
		c.missedHeartbeatsLimit = missedLimit
	})
}

// WithPollInterval sets the membership poll interval
func WithPollInterval(interval time.Duration) Option {
	return OptionFunc(func(c *Config) { c.pollInterval = interval })
}

// WithMembershipTimeout sets the membership view deadline
func WithMembershipTimeout(timeout time.Duration) Option {
	return OptionFunc(func(c *Config) { c.membershipTimeout = timeout })
}

// WithVotesForDeath sets the number of suspicion votes that kill a silo
func WithVotesForDeath(votes int) Option {
	return OptionFunc(func(c *Config) { c.votesForDeath = votes })
}

// WithActivationTimeout sets the activation timeout
func WithActivationTimeout(timeout time.Duration) Option {
	return OptionFunc(func(c *Config) { c.activationTimeout = timeout })
}

// WithCallTimeout sets the forwarded call timeout
func WithCallTimeout(timeout time.Duration) Option {
	return OptionFunc(func(c *Config) { c.callTimeout = timeout })
}

// WithIdleTimeout sets the idle passivation delay
func WithIdleTimeout(timeout time.Duration) Option {
	return OptionFunc(func(c *Config) { c.idleTimeout = timeout })
}

// WithReminderScanInterval sets the reminder scan interval
func WithReminderScanInterval(interval time.Duration) Option {
	return OptionFunc(func(c *Config) { c.reminderScanInterval = interval })
}

// WithReminderConcurrency caps the in-flight reminder firings
func WithReminderConcurrency(limit int) Option {
	return OptionFunc(func(c *Config) { c.reminderConcurrency = limit })
}

// WithStreamPolling sets the stream poll interval and batch size
func WithStreamPolling(interval time.Duration, batchSize int) Option {
	return OptionFunc(func(c *Config) {
		c.streamPollInterval = interval
		c.streamBatchSize = batchSize
	})
}

// WithVirtualNodes sets the number of ring points per silo
func WithVirtualNodes(count int) Option {
	return OptionFunc(func(c *Config) { c.virtualNodes = count })
}

// WithGatewayRefreshPeriod sets the client gateway list refresh period
func WithGatewayRefreshPeriod(period time.Duration) Option {
	return OptionFunc(func(c *Config) { c.gatewayRefreshPeriod = period })
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(c *Config) { c.logger = logger })
}
