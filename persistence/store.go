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

package persistence

import (
	"context"

	"github.com/jt7sku/koonti/identity"
)

// Record is the persisted state of one actor.
type Record struct {
	// State is the opaque payload written by the actor.
	State []byte
	// Version starts at 1 and increases by one on every successful write.
	Version int64
}

// Store persists actor state with optimistic versioning.
//
// Implementations must be safe for concurrent use. A write only succeeds when
// the stored version equals the expected one, which is what keeps a stale
// activation from overwriting a newer state.
type Store interface {
	// Read returns the state of key or ErrNotFound.
	Read(ctx context.Context, key identity.ActorKey) (*Record, error)
	// Write stores state when the current version equals expectedVersion,
	// zero meaning the key must not exist yet. It returns the new version
	// or ErrVersionConflict.
	Write(ctx context.Context, key identity.ActorKey, state []byte, expectedVersion int64) (int64, error)
	// Delete clears the state of key when its version equals expectedVersion.
	// Deleting an absent key with expectedVersion zero is a no-op.
	Delete(ctx context.Context, key identity.ActorKey, expectedVersion int64) error
}

// Invalidator is implemented by stores keeping local copies of the state.
// The engine invalidates a key when its activation is released, since the
// next activation may follow writes made by another silo.
type Invalidator interface {
	Invalidate(key identity.ActorKey)
}
