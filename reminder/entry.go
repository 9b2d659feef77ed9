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

package reminder

import (
	"time"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/codec"
)

// Entry is a durable reminder of an actor. A zero Period makes a one-shot
// reminder removed after its first acknowledged firing.
type Entry struct {
	Key     identity.ActorKey
	Name    string
	DueTime time.Time
	Period  time.Duration
}

// ID returns the unique name of the reminder within the cluster.
func (e *Entry) ID() string {
	return e.Key.String() + "/" + e.Name
}

// OneShot reports whether the reminder fires only once.
func (e *Entry) OneShot() bool {
	return e.Period == 0
}

// next returns the due time following a firing at now. Whole periods missed
// while nobody fired the reminder are skipped.
func (e *Entry) next(now time.Time) time.Time {
	if e.OneShot() {
		return time.Time{}
	}
	next := e.DueTime.Add(e.Period)
	if !next.After(now) {
		missed := now.Sub(e.DueTime) / e.Period
		next = e.DueTime.Add((missed + 1) * e.Period)
	}
	return next
}

// Tick is the argument of the reminder method.
type Tick struct {
	Name    string        `cbor:"1,keyasint"`
	DueTime time.Time     `cbor:"2,keyasint"`
	Period  time.Duration `cbor:"3,keyasint"`
	FiredAt time.Time     `cbor:"4,keyasint"`
}

// DecodeTick decodes the arguments an actor receives on the reminder method.
func DecodeTick(args []byte) (*Tick, error) {
	tick := new(Tick)
	if err := codec.Unmarshal(args, tick); err != nil {
		return nil, gerrors.NewErrInvalidArgument(err)
	}
	return tick, nil
}

func encodeTick(tick *Tick) ([]byte, error) {
	return codec.Marshal(tick)
}
