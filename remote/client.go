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

package remote

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/compression"
	khttp "github.com/jt7sku/koonti/internal/http"
	"github.com/jt7sku/koonti/internal/xsync"
)

type unaryClient = connect.Client[Request, Response]

// Client sends invocations to silos and calls to gateways. Failures to
// reach the remote end are reported as ErrActivationUnavailable; errors
// raised by the remote actor are rebuilt into the errors taxonomy.
type Client struct {
	httpClient *http.Client
	clients    *xsync.Map[string, *unaryClient]
}

// NewClient creates a Client whose requests are bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: khttp.NewClient(timeout),
		clients:    xsync.NewMap[string, *unaryClient](),
	}
}

// Invoke runs method on the actor of key hosted by the silo at address.
func (c *Client) Invoke(ctx context.Context, address string, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	return c.unary(ctx, address, InvokeProcedure, key, method, args)
}

// Call routes method on the actor of key through the gateway at address.
func (c *Client) Call(ctx context.Context, address string, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	return c.unary(ctx, address, CallProcedure, key, method, args)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
	c.clients.Reset()
}

func (c *Client) unary(ctx context.Context, address, procedure string, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	response, err := c.client(address, procedure).CallUnary(ctx, connect.NewRequest(newRequest(key, method, args)))
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, gerrors.NewErrActivationUnavailable(err)
	}
	return response.Msg.result(key)
}

func (c *Client) client(address, procedure string) *unaryClient {
	id := procedure + "@" + address
	if client, ok := c.clients.Get(id); ok {
		return client
	}
	client, _ := c.clients.GetOrSet(id, connect.NewClient[Request, Response](
		c.httpClient,
		khttp.URL(address)+procedure,
		connect.WithCodec(cborCodec{}),
		compression.WithZstd(),
		compression.WithSendZstd(),
	))
	return client
}
