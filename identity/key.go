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

package identity

import (
	"errors"
	"strings"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/internal/validation"
)

const (
	separator = "/"

	// Singleton is the well-known key of actors that have one instance per type.
	Singleton = "singleton"

	maxLength = 255
	pattern   = `^[a-zA-Z0-9][a-zA-Z0-9\-_\.:]*$`
)

var errPattern = errors.New("must contain only word characters (i.e. [a-zA-Z0-9] plus non-leading '-', '_', '.' or ':')")

// ActorKey uniquely identifies an addressable actor in the cluster.
// It is a plain value and safe to copy and compare.
type ActorKey struct {
	Type string
	Key  string
}

var _ validation.Validator = ActorKey{}

// New creates an ActorKey.
func New(actorType, key string) ActorKey {
	return ActorKey{Type: actorType, Key: key}
}

// NewSingleton creates the singleton key of the given actor type.
func NewSingleton(actorType string) ActorKey {
	return ActorKey{Type: actorType, Key: Singleton}
}

// String returns the "type/key" form used in tables, logs and the wire.
func (k ActorKey) String() string {
	return k.Type + separator + k.Key
}

// IsZero reports whether the key is empty.
func (k ActorKey) IsZero() bool {
	return k.Type == "" && k.Key == ""
}

// Validate implements validation.Validator.
func (k ActorKey) Validate() error {
	err := validation.
		New(validation.FailFast()).
		AddValidator(validation.NewEmptyStringValidator("type", k.Type)).
		AddValidator(validation.NewEmptyStringValidator("key", k.Key)).
		AddAssertion(len(k.String()) <= maxLength, "actor key is too long. Maximum length is 255").
		AddValidator(validation.NewPatternValidator(pattern, k.Type, errPattern)).
		AddValidator(validation.NewPatternValidator(pattern, k.Key, errPattern)).
		Validate()
	if err != nil {
		return gerrors.NewErrInvalidActorKey(err)
	}
	return nil
}

// Parse rebuilds an ActorKey from its string form.
func Parse(s string) (ActorKey, error) {
	actorType, key, ok := strings.Cut(s, separator)
	if !ok {
		return ActorKey{}, gerrors.NewErrInvalidActorKey(errors.New("missing separator"))
	}
	k := ActorKey{Type: actorType, Key: key}
	if err := k.Validate(); err != nil {
		return ActorKey{}, err
	}
	return k, nil
}
