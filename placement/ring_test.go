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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jt7sku/koonti/hash"
)

func TestRing(t *testing.T) {
	t.Run("With empty ring", func(t *testing.T) {
		ring := NewRing(10, nil)
		_, ok := ring.Owner("SmartGate/singleton")
		assert.False(t, ok)
		assert.Zero(t, ring.Len())
	})

	t.Run("With deterministic owners", func(t *testing.T) {
		first := NewRing(50, hash.DefaultHasher())
		second := NewRing(50, hash.DefaultHasher())
		first.Update([]string{"silo-1", "silo-2", "silo-3"})
		second.Update([]string{"silo-3", "silo-1", "silo-2", "silo-1"})
		assert.Equal(t, []string{"silo-1", "silo-2", "silo-3"}, second.Members())

		for i := 0; i < 200; i++ {
			key := fmt.Sprintf("SmartGate/%d", i)
			expected, ok := first.Owner(key)
			require.True(t, ok)
			actual, ok := second.Owner(key)
			require.True(t, ok)
			assert.Equal(t, expected, actual)
		}
	})

	t.Run("With spread across members", func(t *testing.T) {
		ring := NewRing(100, nil)
		ring.Update([]string{"silo-1", "silo-2", "silo-3"})
		counts := make(map[string]int)
		for i := 0; i < 3000; i++ {
			owner, _ := ring.Owner(fmt.Sprintf("key-%d", i))
			counts[owner]++
		}
		require.Len(t, counts, 3)
		for _, count := range counts {
			assert.Greater(t, count, 500)
		}
	})

	t.Run("With member removal", func(t *testing.T) {
		ring := NewRing(100, nil)
		ring.Update([]string{"silo-1", "silo-2", "silo-3"})
		before := make(map[string]string)
		for i := 0; i < 500; i++ {
			key := fmt.Sprintf("key-%d", i)
			before[key], _ = ring.Owner(key)
		}

		ring.Update([]string{"silo-1", "silo-2"})
		for key, owner := range before {
			actual, _ := ring.Owner(key)
			assert.NotEqual(t, "silo-3", actual)
			if owner != "silo-3" {
				assert.Equal(t, owner, actual, "key %s moved without reason", key)
			}
		}
	})
}
