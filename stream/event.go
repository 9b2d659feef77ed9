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

package stream

import (
	"time"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/internal/codec"
)

// Event is one entry of a topic log. Sequences are assigned by the Store,
// start at 1 and increase by one per topic.
type Event struct {
	Topic       string    `cbor:"1,keyasint"`
	Sequence    uint64    `cbor:"2,keyasint"`
	Payload     []byte    `cbor:"3,keyasint"`
	PublishedAt time.Time `cbor:"4,keyasint"`
}

// DecodeEvent decodes the arguments an actor receives on the event method.
func DecodeEvent(args []byte) (*Event, error) {
	event := new(Event)
	if err := codec.Unmarshal(args, event); err != nil {
		return nil, gerrors.NewErrInvalidArgument(err)
	}
	return event, nil
}

func encodeEvent(event *Event) ([]byte, error) {
	return codec.Marshal(event)
}
