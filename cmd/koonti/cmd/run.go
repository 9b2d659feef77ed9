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

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/jt7sku/koonti/config"
	"github.com/jt7sku/koonti/silo"
	"github.com/jt7sku/koonti/worlds"
)

const stopTimeout = 30 * time.Second

var (
	redisURL       string
	cacheSize      int
	metricsEnabled bool
	subscribe      bool
)

// runCmd starts a silo configured from the environment
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a silo and join the cluster",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		logger := cfg.Logger()
		defer func() { _ = logger.Flush() }()

		backend, closeBackend, err := openBackend(ctx, cfg.StorageConnectionString(), redisURL)
		if err != nil {
			return err
		}

		opts := []silo.Option{silo.WithStateCache(cacheSize)}
		if metricsEnabled {
			opts = append(opts, silo.WithMetrics())
		}

		member, err := silo.New(cfg, backend, opts...)
		if err != nil {
			return multierr.Combine(err, closeBackend())
		}
		worlds.Register(member)

		if err := member.Start(ctx); err != nil {
			return multierr.Combine(err, closeBackend())
		}
		if subscribe {
			if err := worlds.Subscribe(ctx, member.Stream()); err != nil {
				logger.Errorf("failed to subscribe the world registries: %v", err)
			}
		}

		// wait for interruption/termination
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		logger.Infof("received %s, stopping silo (%s)", sig, member.ID())

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return multierr.Combine(member.Stop(stopCtx), closeBackend())
	},
}

func init() {
	runCmd.Flags().StringVar(&redisURL, "redis-url", "", "keep actor state in redis (redis://host:port/db)")
	runCmd.Flags().IntVar(&cacheSize, "cache-size", 0, "number of actor states cached per silo, 0 disables the cache")
	runCmd.Flags().BoolVar(&metricsEnabled, "metrics", false, "record OpenTelemetry metrics")
	runCmd.Flags().BoolVar(&subscribe, "subscribe", true, "subscribe the world registries to their block topics")
	rootCmd.AddCommand(runCmd)
}
