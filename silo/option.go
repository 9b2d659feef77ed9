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
	"github.com/jt7sku/koonti/internal/metric"
)

// Option is the interface that applies a configuration option.
type Option interface {
	// Apply sets the Option value of a config.
	Apply(silo *Silo)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(*Silo)

// Apply applies the Silo's option
func (f OptionFunc) Apply(s *Silo) {
	f(s)
}

// WithMetrics records the silo instruments on the global OpenTelemetry meter provider
func WithMetrics() Option {
	return OptionFunc(func(s *Silo) {
		s.meter = metric.Meter()
	})
}

// WithStateCache keeps up to size actor states in memory
func WithStateCache(size int) Option {
	return OptionFunc(func(s *Silo) {
		s.stateCacheSize = size
	})
}

// WithStoreRetries sets how many times a failed state store call is retried
func WithStoreRetries(retries uint64) Option {
	return OptionFunc(func(s *Silo) {
		s.storeRetries = retries
	})
}
