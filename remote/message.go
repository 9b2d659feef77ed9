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
	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
)

const (
	// InvokeProcedure runs an invocation on the receiving silo.
	InvokeProcedure = "/koonti.v1.SiloService/Invoke"
	// CallProcedure routes a call from outside the cluster through a gateway.
	CallProcedure = "/koonti.v1.GatewayService/Call"
)

// Request is the body of both procedures.
type Request struct {
	ActorType string `cbor:"1,keyasint"`
	ActorKey  string `cbor:"2,keyasint"`
	Method    string `cbor:"3,keyasint"`
	Args      []byte `cbor:"4,keyasint,omitempty"`
}

// Response carries either the payload or an application error. Application
// errors travel in the body so that transport failures stay distinguishable.
type Response struct {
	Payload      []byte `cbor:"1,keyasint,omitempty"`
	ErrorCode    string `cbor:"2,keyasint,omitempty"`
	ErrorMessage string `cbor:"3,keyasint,omitempty"`
	Owner        string `cbor:"4,keyasint,omitempty"`
}

func newRequest(key identity.ActorKey, method string, args []byte) *Request {
	return &Request{ActorType: key.Type, ActorKey: key.Key, Method: method, Args: args}
}

func (r *Request) key() identity.ActorKey {
	return identity.New(r.ActorType, r.ActorKey)
}

func newResponse(payload []byte, err error) *Response {
	if err == nil {
		return &Response{Payload: payload}
	}
	response := &Response{
		ErrorCode:    string(gerrors.CodeOf(err)),
		ErrorMessage: err.Error(),
	}
	if notOwner, ok := asNotOwner(err); ok {
		response.Owner = notOwner.Owner
	}
	return response
}

// result rebuilds the outcome of a call from its response.
func (r *Response) result(key identity.ActorKey) ([]byte, error) {
	if r.ErrorCode == "" {
		return r.Payload, nil
	}
	return nil, gerrors.FromCode(gerrors.Code(r.ErrorCode), r.ErrorMessage, key.String(), r.Owner)
}
