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
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

// maxPayloadSize bounds decompressed actor state.
const maxPayloadSize = 64 << 20

func init() {
	var err error
	options := cbor.CoreDetEncOptions()
	options.Time = cbor.TimeRFC3339Nano
	if encMode, err = options.EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
	if encoder, err = zstd.NewWriter(nil, zstd.WithEncoderCRC(true), zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic(err)
	}
	if decoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadSize), zstd.WithDecoderConcurrency(0)); err != nil {
		panic(err)
	}
}

// Marshal encodes v as deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Pack compresses a payload into a checksummed zstd frame.
func Pack(payload []byte) []byte {
	return encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2+16))
}

// Unpack reverses Pack. Truncated frames and checksum mismatches are errors.
func Unpack(frame []byte) ([]byte, error) {
	payload, err := decoder.DecodeAll(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: unpack: %w", err)
	}
	return payload, nil
}

// Encode marshals v and packs the result.
func Encode(v any) ([]byte, error) {
	payload, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return Pack(payload), nil
}

// Decode unpacks frame and unmarshals it into v.
func Decode(frame []byte, v any) error {
	payload, err := Unpack(frame)
	if err != nil {
		return err
	}
	if err := Unmarshal(payload, v); err != nil {
		return fmt.Errorf("codec: decode: %w", err)
	}
	return nil
}
