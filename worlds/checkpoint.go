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

package worlds

import (
	"strings"

	"github.com/jt7sku/koonti/identity"
)

// Entity types hosting a world registry.
const (
	SmartDroneUnit   = "SmartDroneUnit"
	SmartGate        = "SmartGate"
	SmartTurret      = "SmartTurret"
	SmartStorageUnit = "SmartStorageUnit"
)

// EntityTypes lists every entity type in registration order.
var EntityTypes = []string{SmartDroneUnit, SmartGate, SmartTurret, SmartStorageUnit}

// Checkpoint is the last block observed on a chain address. A nil
// BlockNumber means the world is known but no block was observed yet.
type Checkpoint struct {
	Address     string `cbor:"1,keyasint"`
	BlockNumber *int64 `cbor:"2,keyasint,omitempty"`
}

// advance moves the checkpoint forward to blockNumber. It reports false when
// blockNumber is absent or not newer than the current block.
func (c *Checkpoint) advance(blockNumber *int64) bool {
	if blockNumber == nil {
		return false
	}
	if c.BlockNumber != nil && *blockNumber <= *c.BlockNumber {
		return false
	}
	block := *blockNumber
	c.BlockNumber = &block
	return true
}

// BlockObserved is the payload published on an entity type topic when the
// chain indexer sees a new block for an address.
type BlockObserved struct {
	Address     string `cbor:"1,keyasint"`
	BlockNumber int64  `cbor:"2,keyasint"`
}

// Key returns the actor key of the registry of entityType.
func Key(entityType string) identity.ActorKey {
	return identity.NewSingleton(entityType)
}

// Topic returns the stream topic block observations of entityType are
// published on.
func Topic(entityType string) string {
	return "worlds." + strings.ToLower(entityType)
}

// NormalizeAddress returns the canonical form of a chain address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// BlockNumber returns a pointer to n.
func BlockNumber(n int64) *int64 {
	return &n
}
