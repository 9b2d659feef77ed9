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

package placement

import (
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/jt7sku/koonti/hash"
)

// Ring places keys on silos with consistent hashing. Each silo owns
// virtualNodes points of the ring and a key belongs to the first point at or
// after its hash. Every silo holding the same member set computes the same
// owner for the same key.
type Ring struct {
	mu           sync.RWMutex
	hasher       hash.Hasher
	virtualNodes int
	points       []uint64
	owners       map[uint64]string
	members      []string
}

// NewRing creates an empty Ring.
func NewRing(virtualNodes int, hasher hash.Hasher) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = 1
	}
	if hasher == nil {
		hasher = hash.DefaultHasher()
	}
	return &Ring{
		hasher:       hasher,
		virtualNodes: virtualNodes,
		owners:       make(map[uint64]string),
	}
}

// Update replaces the member set and rebuilds the ring.
func (r *Ring) Update(silos []string) {
	members := slices.Clone(silos)
	slices.Sort(members)
	members = slices.Compact(members)

	owners := make(map[uint64]string, len(members)*r.virtualNodes)
	points := make([]uint64, 0, len(members)*r.virtualNodes)
	for _, silo := range members {
		for i := 0; i < r.virtualNodes; i++ {
			point := r.hasher.HashCode([]byte(silo + "#" + strconv.Itoa(i)))
			// members are sorted so collisions resolve the same way everywhere
			if _, taken := owners[point]; taken {
				continue
			}
			owners[point] = silo
			points = append(points, point)
		}
	}
	slices.Sort(points)

	r.mu.Lock()
	r.members = members
	r.points = points
	r.owners = owners
	r.mu.Unlock()
}

// Owner returns the silo owning key, or false when the ring is empty.
func (r *Ring) Owner(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 {
		return "", false
	}
	point := r.hasher.HashCode([]byte(key))
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= point })
	if idx == len(r.points) {
		idx = 0
	}
	return r.owners[r.points[idx]], true
}

// Members returns the sorted member set.
func (r *Ring) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.members)
}

// Len returns the number of members.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
