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
	"math/rand/v2"
	"sync"
)

// Random helps pick a gateway at random
type Random struct {
	locker   sync.Mutex
	gateways []string
}

var _ Balancer = (*Random)(nil)

// NewRandom creates an instance of Random balancer
func NewRandom() *Random {
	return &Random{}
}

// Set implements Balancer.
func (x *Random) Set(gateways ...string) {
	x.locker.Lock()
	x.gateways = gateways
	x.locker.Unlock()
}

// Next implements Balancer.
func (x *Random) Next() (string, bool) {
	x.locker.Lock()
	defer x.locker.Unlock()
	if len(x.gateways) == 0 {
		return "", false
	}
	return x.gateways[rand.IntN(len(x.gateways))], true //nolint:gosec
}
