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
	"net"
	"net/http"
	"sync"

	"connectrpc.com/connect"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
	"github.com/jt7sku/koonti/internal/compression"
	khttp "github.com/jt7sku/koonti/internal/http"
	"github.com/jt7sku/koonti/log"
)

// Invoker runs invocations on actors activated on this silo.
type Invoker interface {
	InvokeLocal(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error)
}

// Caller routes calls to the silo hosting the actor.
type Caller interface {
	Call(ctx context.Context, key identity.ActorKey, method string, args []byte) ([]byte, error)
}

// NewSiloHandler serves the silo-to-silo procedure.
func NewSiloHandler(invoker Invoker) (string, http.Handler) {
	return InvokeProcedure, connect.NewUnaryHandler(InvokeProcedure,
		func(ctx context.Context, req *connect.Request[Request]) (*connect.Response[Response], error) {
			return connect.NewResponse(serve(ctx, req.Msg, invoker.InvokeLocal)), nil
		},
		connect.WithCodec(cborCodec{}),
		compression.WithZstd(),
	)
}

// NewGatewayHandler serves the external client procedure.
func NewGatewayHandler(caller Caller) (string, http.Handler) {
	return CallProcedure, connect.NewUnaryHandler(CallProcedure,
		func(ctx context.Context, req *connect.Request[Request]) (*connect.Response[Response], error) {
			return connect.NewResponse(serve(ctx, req.Msg, caller.Call)), nil
		},
		connect.WithCodec(cborCodec{}),
		compression.WithZstd(),
	)
}

func serve(ctx context.Context, req *Request, call func(context.Context, identity.ActorKey, string, []byte) ([]byte, error)) *Response {
	key := req.key()
	if err := key.Validate(); err != nil {
		return newResponse(nil, err)
	}
	return newResponse(call(ctx, key, req.Method, req.Args))
}

// Server is an HTTP/2 cleartext server hosting connect handlers.
type Server struct {
	name     string
	address  string
	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
	logger   log.Logger
	mu       sync.Mutex
	done     chan struct{}
}

// NewServer creates a Server listening on address once started.
func NewServer(name, address string, logger log.Logger) *Server {
	if logger == nil {
		logger = log.DiscardLogger
	}
	return &Server{
		name:    name,
		address: address,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
}

// Handle registers handler on path. It must be called before Start.
func (s *Server) Handle(path string, handler http.Handler) {
	s.mux.Handle(path, handler)
}

// Start binds the listener and serves in the background.
func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	s.listener = listener
	s.server = khttp.NewServer(s.mux, s.logger.StdLogger())
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("%s server stopped: %v", s.name, err)
		}
	}()

	s.logger.Infof("%s server listening on %s", s.name, listener.Addr().String())
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	err := s.server.Shutdown(ctx)
	<-s.done
	s.listener = nil
	s.logger.Infof("%s server stopped.", s.name)
	return err
}

// Address returns the bound address, or the configured one before Start.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

func asNotOwner(err error) (*gerrors.NotOwnerError, bool) {
	var notOwner *gerrors.NotOwnerError
	ok := errors.As(err, &notOwner)
	return notOwner, ok
}
