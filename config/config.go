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
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/jt7sku/koonti/internal/validation"
	"github.com/jt7sku/koonti/log"
)

const (
	DefaultClusterID             = "Kluster"
	DefaultServiceID             = "Service"
	DefaultSiloName              = "Silo"
	DefaultHost                  = "127.0.0.1"
	DefaultSiloPort              = 11111
	DefaultGatewayPort           = 30000
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultMissedHeartbeatsLimit = 4
	DefaultPollInterval          = 10 * time.Second
	DefaultMembershipTimeout     = 2 * time.Minute
	DefaultVotesForDeath         = 2
	DefaultActivationTimeout     = 5 * time.Second
	DefaultCallTimeout           = 30 * time.Second
	DefaultIdleTimeout           = 15 * time.Minute
	DefaultReminderScanInterval  = 5 * time.Second
	DefaultReminderConcurrency   = 64
	DefaultStreamPollInterval    = time.Second
	DefaultStreamBatchSize       = 100
	DefaultVirtualNodes          = 100
	DefaultGatewayRefreshPeriod  = 30 * time.Second
)

// Config holds the settings of one silo. It is built once at start and
// never mutated afterwards; components read it through the getters.
type Config struct {
	clusterID               string
	serviceID               string
	siloName                string
	host                    string
	siloPort                int
	gatewayPort             int
	storageConnectionString string
	natsURL                 string
	heartbeatInterval       time.Duration
	missedHeartbeatsLimit   int
	pollInterval            time.Duration
	membershipTimeout       time.Duration
	votesForDeath           int
	activationTimeout       time.Duration
	callTimeout             time.Duration
	idleTimeout             time.Duration
	reminderScanInterval    time.Duration
	reminderConcurrency     int
	streamPollInterval      time.Duration
	streamBatchSize         int
	virtualNodes            int
	gatewayRefreshPeriod    time.Duration
	logger                  log.Logger
}

var _ validation.Validator = (*Config)(nil)

// New creates a Config with the defaults overridden by the given options.
func New(opts ...Option) *Config {
	config := &Config{
		clusterID:             DefaultClusterID,
		serviceID:             DefaultServiceID,
		siloName:              DefaultSiloName,
		host:                  DefaultHost,
		siloPort:              DefaultSiloPort,
		gatewayPort:           DefaultGatewayPort,
		heartbeatInterval:     DefaultHeartbeatInterval,
		missedHeartbeatsLimit: DefaultMissedHeartbeatsLimit,
		pollInterval:          DefaultPollInterval,
		membershipTimeout:     DefaultMembershipTimeout,
		votesForDeath:         DefaultVotesForDeath,
		activationTimeout:     DefaultActivationTimeout,
		callTimeout:           DefaultCallTimeout,
		idleTimeout:           DefaultIdleTimeout,
		reminderScanInterval:  DefaultReminderScanInterval,
		reminderConcurrency:   DefaultReminderConcurrency,
		streamPollInterval:    DefaultStreamPollInterval,
		streamBatchSize:       DefaultStreamBatchSize,
		virtualNodes:          DefaultVirtualNodes,
		gatewayRefreshPeriod:  DefaultGatewayRefreshPeriod,
		logger:                log.DefaultLogger,
	}

	for _, opt := range opts {
		opt.Apply(config)
	}
	return config
}

// environment mirrors Config for caarlos0/env. Every variable has a default
// so a silo starts with an empty environment.
type environment struct {
	ClusterID               string        `env:"CLUSTER_ID" envDefault:"Kluster"`
	ServiceID               string        `env:"SERVICE_ID" envDefault:"Service"`
	SiloName                string        `env:"SILO_NAME" envDefault:"Silo"`
	Host                    string        `env:"SILO_HOST" envDefault:"127.0.0.1"`
	SiloPort                int           `env:"SILO_PORT" envDefault:"11111"`
	GatewayPort             int           `env:"GATEWAY_PORT" envDefault:"30000"`
	StorageConnectionString string        `env:"STORAGE_CONNECTION_STRING"`
	NatsURL                 string        `env:"NATS_URL"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	HeartbeatInterval       time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	MissedHeartbeatsLimit   int           `env:"MISSED_HEARTBEATS_LIMIT" envDefault:"4"`
	PollInterval            time.Duration `env:"MEMBERSHIP_POLL_INTERVAL" envDefault:"10s"`
	MembershipTimeout       time.Duration `env:"MEMBERSHIP_TIMEOUT" envDefault:"2m"`
	VotesForDeath           int           `env:"VOTES_FOR_DEATH" envDefault:"2"`
	ActivationTimeout       time.Duration `env:"ACTIVATION_TIMEOUT" envDefault:"5s"`
	CallTimeout             time.Duration `env:"CALL_TIMEOUT" envDefault:"30s"`
	IdleTimeout             time.Duration `env:"IDLE_TIMEOUT" envDefault:"15m"`
	ReminderScanInterval    time.Duration `env:"REMINDER_SCAN_INTERVAL" envDefault:"5s"`
	ReminderConcurrency     int           `env:"REMINDER_CONCURRENCY" envDefault:"64"`
	StreamPollInterval      time.Duration `env:"STREAM_POLL_INTERVAL" envDefault:"1s"`
	StreamBatchSize         int           `env:"STREAM_BATCH_SIZE" envDefault:"100"`
	VirtualNodes            int           `env:"VIRTUAL_NODES" envDefault:"100"`
	GatewayRefreshPeriod    time.Duration `env:"GATEWAY_REFRESH_PERIOD" envDefault:"30s"`
}

// FromEnv reads the process environment once and returns the resulting Config.
// Options are applied after the environment.
func FromEnv(opts ...Option) (*Config, error) {
	return fromEnvironment(nil, opts...)
}

func fromEnvironment(environ map[string]string, opts ...Option) (*Config, error) {
	var vars environment
	if err := env.ParseWithOptions(&vars, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to load the silo configuration: %w", err)
	}

	config := New(
		WithClusterID(vars.ClusterID),
		WithServiceID(vars.ServiceID),
		WithSiloName(vars.SiloName),
		WithHost(vars.Host),
		WithSiloPort(vars.SiloPort),
		WithGatewayPort(vars.GatewayPort),
		WithStorageConnectionString(vars.StorageConnectionString),
		WithNatsURL(vars.NatsURL),
		WithHeartbeat(vars.HeartbeatInterval, vars.MissedHeartbeatsLimit),
		WithPollInterval(vars.PollInterval),
		WithMembershipTimeout(vars.MembershipTimeout),
		WithVotesForDeath(vars.VotesForDeath),
		WithActivationTimeout(vars.ActivationTimeout),
		WithCallTimeout(vars.CallTimeout),
		WithIdleTimeout(vars.IdleTimeout),
		WithReminderScanInterval(vars.ReminderScanInterval),
		WithReminderConcurrency(vars.ReminderConcurrency),
		WithStreamPolling(vars.StreamPollInterval, vars.StreamBatchSize),
		WithVirtualNodes(vars.VirtualNodes),
		WithGatewayRefreshPeriod(vars.GatewayRefreshPeriod),
		WithLogger(log.New(log.ParseLevel(vars.LogLevel))),
	)

	for _, opt := range opts {
		opt.Apply(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate implements validation.Validator.
func (c *Config) Validate() error {
	return validation.New().
		AddValidator(validation.NewEmptyStringValidator("clusterID", c.clusterID)).
		AddValidator(validation.NewEmptyStringValidator("serviceID", c.serviceID)).
		AddValidator(validation.NewEmptyStringValidator("siloName", c.siloName)).
		AddValidator(validation.NewTCPAddressValidator(c.SiloAddress())).
		AddValidator(validation.NewTCPAddressValidator(c.GatewayAddress())).
		AddAssertion(c.heartbeatInterval > 0, "heartbeat interval must be positive").
		AddAssertion(c.missedHeartbeatsLimit > 0, "missed heartbeats limit must be positive").
		AddAssertion(c.pollInterval > 0, "membership poll interval must be positive").
		AddAssertion(c.membershipTimeout > 0, "membership timeout must be positive").
		AddAssertion(c.votesForDeath > 0, "votes for death must be positive").
		AddAssertion(c.activationTimeout > 0, "activation timeout must be positive").
		AddAssertion(c.callTimeout > 0, "call timeout must be positive").
		AddAssertion(c.idleTimeout >= 0, "idle timeout must not be negative").
		AddAssertion(c.reminderScanInterval > 0, "reminder scan interval must be positive").
		AddAssertion(c.reminderConcurrency > 0, "reminder concurrency must be positive").
		AddAssertion(c.streamPollInterval > 0, "stream poll interval must be positive").
		AddAssertion(c.streamBatchSize > 0, "stream batch size must be positive").
		AddAssertion(c.virtualNodes > 0, "virtual nodes must be positive").
		AddAssertion(c.gatewayRefreshPeriod > 0, "gateway refresh period must be positive").
		AddAssertion(c.logger != nil, "logger is required").
		Validate()
}

// ClusterID returns the cluster the silo joins.
func (c *Config) ClusterID() string { return c.clusterID }

// ServiceID returns the service the cluster belongs to.
func (c *Config) ServiceID() string { return c.serviceID }

// SiloName returns the silo name prefix.
func (c *Config) SiloName() string { return c.siloName }

// Host returns the advertised host.
func (c *Config) Host() string { return c.host }

// SiloPort returns the silo-to-silo port.
func (c *Config) SiloPort() int { return c.siloPort }

// GatewayPort returns the client gateway port.
func (c *Config) GatewayPort() int { return c.gatewayPort }

// SiloAddress returns host:siloPort.
func (c *Config) SiloAddress() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.siloPort))
}

// GatewayAddress returns host:gatewayPort.
func (c *Config) GatewayAddress() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.gatewayPort))
}

// StorageConnectionString returns the postgres connection string, if any.
func (c *Config) StorageConnectionString() string { return c.storageConnectionString }

// NatsURL returns the NATS server used for stream wake-ups, if any.
func (c *Config) NatsURL() string { return c.natsURL }

// HeartbeatInterval returns the I-am-alive period.
func (c *Config) HeartbeatInterval() time.Duration { return c.heartbeatInterval }

// MissedHeartbeatsLimit returns the number of missed heartbeats after which a silo is dead.
func (c *Config) MissedHeartbeatsLimit() int { return c.missedHeartbeatsLimit }

// DeathThreshold returns HeartbeatInterval * MissedHeartbeatsLimit.
func (c *Config) DeathThreshold() time.Duration {
	return c.heartbeatInterval * time.Duration(c.missedHeartbeatsLimit)
}

// PollInterval returns the membership table refresh period.
func (c *Config) PollInterval() time.Duration { return c.pollInterval }

// MembershipTimeout returns how long the view may go without a successful refresh.
func (c *Config) MembershipTimeout() time.Duration { return c.membershipTimeout }

// VotesForDeath returns the number of suspicions that declare a silo dead.
func (c *Config) VotesForDeath() int { return c.votesForDeath }

// ActivationTimeout bounds a single activation.
func (c *Config) ActivationTimeout() time.Duration { return c.activationTimeout }

// CallTimeout bounds a forwarded call.
func (c *Config) CallTimeout() time.Duration { return c.callTimeout }

// IdleTimeout returns the passivation delay. Zero disables passivation.
func (c *Config) IdleTimeout() time.Duration { return c.idleTimeout }

// ReminderScanInterval returns the reminder table scan period.
func (c *Config) ReminderScanInterval() time.Duration { return c.reminderScanInterval }

// ReminderConcurrency caps in-flight reminder firings.
func (c *Config) ReminderConcurrency() int { return c.reminderConcurrency }

// StreamPollInterval returns the fallback delivery poll period.
func (c *Config) StreamPollInterval() time.Duration { return c.streamPollInterval }

// StreamBatchSize caps events read per delivery round.
func (c *Config) StreamBatchSize() int { return c.streamBatchSize }

// VirtualNodes returns the number of ring points per silo.
func (c *Config) VirtualNodes() int { return c.virtualNodes }

// GatewayRefreshPeriod returns how often external clients reload the gateway list.
func (c *Config) GatewayRefreshPeriod() time.Duration { return c.gatewayRefreshPeriod }

// Logger returns the configured logger.
func (c *Config) Logger() log.Logger { return c.logger }
