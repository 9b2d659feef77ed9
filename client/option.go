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
	"github.com/jt7sku/koonti/log"
)

// Option is the interface that applies a configuration option.
type Option interface {
	// Apply sets the Option value of a config.
	Apply(cl *Client)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(*Client)

// Apply applies the Client's option
func (f OptionFunc) Apply(c *Client) {
	f(c)
}

// WithBalancerStrategy sets the Client balancer strategy
func WithBalancerStrategy(strategy BalancerStrategy) Option {
	return OptionFunc(func(cl *Client) {
		cl.strategy = strategy
	})
}

// WithTransport replaces the connect transport used to reach gateways
func WithTransport(transport Transport) Option {
	return OptionFunc(func(cl *Client) {
		cl.transport = transport
	})
}

// WithLogger sets the Client logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(cl *Client) {
		cl.logger = logger
	})
}
