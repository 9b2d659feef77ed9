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

// BalancerStrategy selects how calls are spread over the known gateways.
type BalancerStrategy int

const (
	// RoundRobinStrategy cycles through the gateways in address order
	RoundRobinStrategy BalancerStrategy = iota
	// RandomStrategy picks a gateway at random
	RandomStrategy
)

// Balancer picks the gateway of the next call.
type Balancer interface {
	// Set replaces the gateway pool
	Set(gateways ...string)
	// Next returns the gateway to use. The boolean is false when the pool is empty.
	Next() (string, bool)
}

func getBalancer(strategy BalancerStrategy) Balancer {
	switch strategy {
	case RandomStrategy:
		return NewRandom()
	default:
		return NewRoundRobin()
	}
}
