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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/log"
)

type invokerFunc func(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error)

func (f invokerFunc) InvokeLocal(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	return f(ctx, key, method, args)
}

type callerFunc func(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error)

func (f callerFunc) Call(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	return f(ctx, key, method, args)
}

func echo(_ context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error) {
	switch method {
	case "echo":
		return append([]byte(key.String()+":"), args...), nil
	case "conflict":
		return nil, gerrors.NewErrVersionConflict(key.String(), 1, 2)
	case "moved":
		return nil, gerrors.NewNotOwnerError(key.String(), "silo-2")
	default:
		return nil, gerrors.NewErrUnknownMethod(method)
	}
}

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer("silo", "127.0.0.1:0", log.DiscardLogger)
	server.Handle(NewSiloHandler(invokerFunc(echo)))
	server.Handle(NewGatewayHandler(callerFunc(echo)))
	require.NoError(t, server.Start(context.Background()))
	return server
}

func TestRemote(t *testing.T) {
	t.Run("With successful invocation", func(t *testing.T) {
		server := startServer(t)
		client := NewClient(time.Second)

		key := identity.New("World", "mainnet")
		payload, err := client.Invoke(context.Background(), server.Address(), key, "echo", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "World/mainnet:hello", string(payload))

		payload, err = client.Call(context.Background(), server.Address(), key, "echo", nil)
		require.NoError(t, err)
		assert.Equal(t, "World/mainnet:", string(payload))

		client.Close()
		require.NoError(t, server.Stop(context.Background()))
	})

	t.Run("With application errors", func(t *testing.T) {
		server := startServer(t)
		client := NewClient(time.Second)
		t.Cleanup(func() {
			client.Close()
			_ = server.Stop(context.Background())
		})

		key := identity.New("World", "mainnet")
		_, err := client.Invoke(context.Background(), server.Address(), key, "conflict", nil)
		require.ErrorIs(t, err, gerrors.ErrVersionConflict)
		assert.NotErrorIs(t, err, gerrors.ErrActivationUnavailable)

		_, err = client.Invoke(context.Background(), server.Address(), key, "fly", nil)
		require.ErrorIs(t, err, gerrors.ErrUnknownMethod)
		assert.Contains(t, err.Error(), "fly")

		_, err = client.Invoke(context.Background(), server.Address(), key, "moved", nil)
		var notOwner *gerrors.NotOwnerError
		require.ErrorAs(t, err, &notOwner)
		assert.Equal(t, "silo-2", notOwner.Owner)
	})

	t.Run("With invalid key", func(t *testing.T) {
		server := startServer(t)
		client := NewClient(time.Second)
		t.Cleanup(func() {
			client.Close()
			_ = server.Stop(context.Background())
		})

		_, err := client.Call(context.Background(), server.Address(), identity.ActorKey{}, "echo", nil)
		require.ErrorIs(t, err, gerrors.ErrInvalidActorKey)
	})

	t.Run("With unreachable silo", func(t *testing.T) {
		server := startServer(t)
		address := server.Address()
		require.NoError(t, server.Stop(context.Background()))

		client := NewClient(500 * time.Millisecond)
		defer client.Close()

		_, err := client.Invoke(context.Background(), address, identity.New("World", "mainnet"), "echo", nil)
		require.ErrorIs(t, err, gerrors.ErrActivationUnavailable)
	})

	t.Run("With cancelled context", func(t *testing.T) {
		server := startServer(t)
		client := NewClient(time.Second)
		t.Cleanup(func() {
			client.Close()
			_ = server.Stop(context.Background())
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := client.Invoke(ctx, server.Address(), identity.New("World", "mainnet"), "echo", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("With idempotent start and stop", func(t *testing.T) {
		server := NewServer("gateway", "127.0.0.1:0", nil)
		require.NoError(t, server.Stop(context.Background()))
		require.NoError(t, server.Start(context.Background()))
		require.NoError(t, server.Start(context.Background()))
		require.NoError(t, server.Stop(context.Background()))
	})
}
