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

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkpoint struct {
	Address     string `cbor:"address"`
	BlockNumber *int64 `cbor:"blockNumber,omitempty"`
}

func TestEncodeDecode(t *testing.T) {
	t.Run("With a struct", func(t *testing.T) {
		block := int64(100)
		frame, err := Encode(map[string]checkpoint{"0xabc": {Address: "0xabc", BlockNumber: &block}})
		require.NoError(t, err)

		var actual map[string]checkpoint
		require.NoError(t, Decode(frame, &actual))
		require.Contains(t, actual, "0xabc")
		assert.Equal(t, int64(100), *actual["0xabc"].BlockNumber)
	})

	t.Run("With deterministic encoding", func(t *testing.T) {
		first, err := Marshal(map[string]int{"b": 2, "a": 1, "c": 3})
		require.NoError(t, err)
		second, err := Marshal(map[string]int{"c": 3, "a": 1, "b": 2})
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("With corrupted frame", func(t *testing.T) {
		frame, err := Encode(checkpoint{Address: "0xabc"})
		require.NoError(t, err)
		frame[len(frame)-1] ^= 0xff

		var actual checkpoint
		assert.Error(t, Decode(frame, &actual))
		assert.Error(t, Decode([]byte("not a frame"), &actual))
	})

	t.Run("With invalid payload", func(t *testing.T) {
		var actual checkpoint
		assert.Error(t, Decode(Pack([]byte{0xff, 0x00}), &actual))
	})
}
