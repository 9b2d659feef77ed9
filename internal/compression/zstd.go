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

package compression

import (
	"io"

	"connectrpc.com/connect"
	"github.com/klauspost/compress/zstd"
)

// Zstd is the name of the Zstandard compression algorithm.
// Reference: https://www.iana.org/assignments/http-parameters/http-parameters.xml#content-coding
const Zstd = "zstd"

// WithZstd registers Zstandard compression on a connect client or handler.
// Clients also advertise it so responses come back compressed.
func WithZstd() connect.Option {
	return option{
		ClientOption:  connect.WithAcceptCompression(Zstd, newDecompressor, newCompressor),
		HandlerOption: connect.WithCompression(Zstd, newDecompressor, newCompressor),
	}
}

// WithSendZstd makes a client compress its requests.
func WithSendZstd() connect.ClientOption {
	return connect.WithSendCompression(Zstd)
}

type option struct {
	connect.ClientOption
	connect.HandlerOption
}

func newCompressor() connect.Compressor {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return &failingCompressor{err: err}
	}
	return encoder
}

func newDecompressor() connect.Decompressor {
	return &decompressor{}
}

// decompressor lazily creates its decoder on the first Reset.
type decompressor struct {
	decoder *zstd.Decoder
}

func (d *decompressor) Read(p []byte) (int, error) {
	if d.decoder == nil {
		return 0, io.EOF
	}
	return d.decoder.Read(p)
}

func (d *decompressor) Reset(r io.Reader) error {
	if d.decoder == nil {
		decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return err
		}
		d.decoder = decoder
		return nil
	}
	return d.decoder.Reset(r)
}

func (d *decompressor) Close() error {
	if d.decoder != nil {
		// a zstd decoder cannot be reused after Close, even via Reset
		d.decoder.Close()
		d.decoder = nil
	}
	return nil
}

type failingCompressor struct {
	err error
}

func (c *failingCompressor) Write([]byte) (int, error) { return 0, c.err }
func (c *failingCompressor) Close() error              { return c.err }
func (c *failingCompressor) Reset(io.Writer)           {}
