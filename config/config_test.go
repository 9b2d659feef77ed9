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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jt7sku/koonti/log"
)

func TestNew(t *testing.T) {
	t.Run("With defaults", func(t *testing.T) {
		config := New()
		require.NoError(t, config.Validate())
		assert.Equal(t, "Kluster", config.ClusterID())
		assert.Equal(t, "Service", config.ServiceID())
		assert.Equal(t, "Silo", config.SiloName())
		assert.Equal(t, "127.0.0.1:11111", config.SiloAddress())
		assert.Equal(t, "127.0.0.1:30000", config.GatewayAddress())
		assert.Equal(t, 30*time.Second, config.HeartbeatInterval())
		assert.Equal(t, 4, config.MissedHeartbeatsLimit())
		assert.Equal(t, 2*time.Minute, config.DeathThreshold())
		assert.Equal(t, 100, config.VirtualNodes())
	})

	t.Run("With options", func(t *testing.T) {
		config := New(
			WithClusterID("test"),
			WithHeartbeat(time.Second, 2),
			WithPollInterval(500*time.Millisecond),
			WithCallTimeout(time.Second),
			WithLogger(log.DiscardLogger),
		)
		require.NoError(t, config.Validate())
		assert.Equal(t, "test", config.ClusterID())
		assert.Equal(t, 2*time.Second, config.DeathThreshold())
		assert.Equal(t, 500*time.Millisecond, config.PollInterval())
		assert.Equal(t, log.DiscardLogger, config.Logger())
	})

	t.Run("With invalid values", func(t *testing.T) {
		config := New(
			WithClusterID(""),
			WithHeartbeat(0, 0),
			WithSiloPort(70000),
			WithLogger(nil),
		)
		err := config.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "clusterID")
		assert.Contains(t, err.Error(), "heartbeat interval must be positive")
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestFromEnvironment(t *testing.T) {
	t.Run("With empty environment", func(t *testing.T) {
		config, err := fromEnvironment(map[string]string{}, WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		assert.Equal(t, DefaultClusterID, config.ClusterID())
		assert.Equal(t, DefaultGatewayPort, config.GatewayPort())
		assert.Equal(t, DefaultIdleTimeout, config.IdleTimeout())
	})

	t.Run("With overrides", func(t *testing.T) {
		config, err := fromEnvironment(map[string]string{
			"CLUSTER_ID":                "prod",
			"SILO_NAME":                 "SmartGate",
			"SILO_PORT":                 "12000",
			"GATEWAY_PORT":              "31000",
			"STORAGE_CONNECTION_STRING": "postgres://koonti@db/koonti",
			"HEARTBEAT_INTERVAL":        "5s",
			"MISSED_HEARTBEATS_LIMIT":   "3",
		}, WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		assert.Equal(t, "prod", config.ClusterID())
		assert.Equal(t, "SmartGate", config.SiloName())
		assert.Equal(t, 12000, config.SiloPort())
		assert.Equal(t, 31000, config.GatewayPort())
		assert.Equal(t, "postgres://koonti@db/koonti", config.StorageConnectionString())
		assert.Equal(t, 15*time.Second, config.DeathThreshold())
	})

	t.Run("With malformed value", func(t *testing.T) {
		_, err := fromEnvironment(map[string]string{"SILO_PORT": "eleven"})
		require.Error(t, err)
	})

	t.Run("With invalid value", func(t *testing.T) {
		_, err := fromEnvironment(map[string]string{"VIRTUAL_NODES": "0"}, WithLogger(log.DiscardLogger))
		require.Error(t, err)
	})
}
